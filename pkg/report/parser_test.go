package report

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

const sampleReport = `{
	"projectName": "publisher",
	"vulnerabilities": [
		{
			"id": "SNYK-JS-LODASH-567746",
			"from": ["publisher@1.0.0", "lodash@4.17.15"],
			"severity": "high",
			"title": "Prototype Pollution"
		},
		{
			"id": "SNYK-JS-LODASH-567746",
			"from": ["publisher@1.0.0", "async@2.6.2", "lodash@4.17.15"],
			"severity": "high",
			"state": ""
		},
		{
			"id": "SNYK-JS-MINIMIST-559764",
			"from": "minimist@0.0.8",
			"severity": "medium",
			"state": "ignored",
			"comment": "dev dependency"
		}
	]
}`

func TestParse(t *testing.T) {
	t.Run("Should parse report and default blank states to new", func(t *testing.T) {
		vulnerabilities, err := Parse(strings.NewReader(sampleReport))
		require.NoError(t, err)
		require.Len(t, vulnerabilities, 3)

		assert.Equal(t, "SNYK-JS-LODASH-567746", vulnerabilities[0].ID)
		assert.Equal(t, vuln.Chain("publisher@1.0.0", "lodash@4.17.15"), vulnerabilities[0].From)
		assert.Equal(t, vuln.StateNew, vulnerabilities[0].State)
		assert.Equal(t, "high", vulnerabilities[0].Severity())

		assert.Equal(t, vuln.StateNew, vulnerabilities[1].State)
		assert.NotEqual(t, vulnerabilities[0].Identity(), vulnerabilities[1].Identity())

		assert.Equal(t, vuln.StateIgnored, vulnerabilities[2].State)
		assert.Equal(t, "dev dependency", vulnerabilities[2].Comment)
		assert.Equal(t, vuln.OriginOf("minimist@0.0.8"), vulnerabilities[2].From)
	})

	t.Run("Should concatenate multi-project reports", func(t *testing.T) {
		vulnerabilities, err := Parse(strings.NewReader(`  [
			{"projectName": "a", "vulnerabilities": [{"id": "A", "from": "pkg1"}]},
			{"projectName": "b", "vulnerabilities": [{"id": "B", "from": "pkg2"}]}
		]`))
		require.NoError(t, err)
		require.Len(t, vulnerabilities, 2)
		assert.Equal(t, "A", vulnerabilities[0].ID)
		assert.Equal(t, "B", vulnerabilities[1].ID)
	})

	t.Run("Should return empty list for clean report", func(t *testing.T) {
		vulnerabilities, err := Parse(strings.NewReader(`{"vulnerabilities": []}`))
		require.NoError(t, err)
		assert.NotNil(t, vulnerabilities)
		assert.Empty(t, vulnerabilities)
	})
}

func TestParse_Malformed(t *testing.T) {
	testCases := []struct {
		name          string
		document      string
		expectedError string
	}{
		{
			name:          "Should fail on empty document",
			document:      "",
			expectedError: "malformed scan report: reading document: EOF",
		},
		{
			name:          "Should fail on invalid JSON",
			document:      `{"vulnerabilities": [`,
			expectedError: "malformed scan report: decoding document: unexpected EOF",
		},
		{
			name:          "Should fail when vulnerabilities field is missing",
			document:      `{"ok": true}`,
			expectedError: "malformed scan report: missing vulnerabilities field",
		},
		{
			name:          "Should fail when vulnerabilities field is null",
			document:      `{"vulnerabilities": null}`,
			expectedError: "malformed scan report: missing vulnerabilities field",
		},
		{
			name:          "Should fail when a project lacks vulnerabilities",
			document:      `[{"vulnerabilities": []}, {"projectName": "b"}]`,
			expectedError: "malformed scan report: missing vulnerabilities field",
		},
		{
			name:          "Should fail on empty multi-project report",
			document:      ` [ ] `,
			expectedError: "malformed scan report: missing vulnerabilities field",
		},
		{
			name:          "Should fail on trailing data after document",
			document:      `{"vulnerabilities": []} not json at all`,
			expectedError: "malformed scan report: unexpected data after document",
		},
		{
			name:          "Should fail on concatenated documents",
			document:      `{"vulnerabilities": []}{"vulnerabilities": []}`,
			expectedError: "malformed scan report: unexpected data after document",
		},
		{
			name:          "Should fail on vulnerability without id",
			document:      `{"vulnerabilities": [{"from": "pkg1"}]}`,
			expectedError: "malformed scan report: vulnerability without id",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.document))
			require.Error(t, err)

			var malformedErr *MalformedError
			assert.True(t, errors.As(err, &malformedErr))
			assert.EqualError(t, err, tc.expectedError)
		})
	}
}
