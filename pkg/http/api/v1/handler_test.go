package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/http/api"
	"github.com/aquasecurity/vuln-tracker/pkg/mock"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/report"
	"github.com/aquasecurity/vuln-tracker/pkg/tracker"
	"github.com/aquasecurity/vuln-tracker/pkg/triage"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

var buildInfo = etc.BuildInfo{Version: "1.0", Commit: "abc", Date: "2024-05-17T10:30"}

func withSeverity(id, from string, state vuln.State, sev string) vuln.Vulnerability {
	return vuln.Vulnerability{
		ID:     id,
		From:   vuln.OriginOf(from),
		State:  state,
		Fields: map[string]json.RawMessage{"severity": json.RawMessage(`"` + sev + `"`)},
	}
}

func TestRequestHandler_ValidateEdits(t *testing.T) {
	testCases := []struct {
		Name          string
		Edits         []vuln.Edit
		ExpectedError *api.Error
	}{
		{
			Name:  "Should accept edits with ids",
			Edits: []vuln.Edit{{ID: "A", State: vuln.StateIgnored}},
		},
		{
			Name:  "Should accept empty batch",
			Edits: []vuln.Edit{},
		},
		{
			Name:  "Should return error when id is blank",
			Edits: []vuln.Edit{{ID: "A"}, {ID: " ", State: vuln.StateIgnored}},
			ExpectedError: &api.Error{
				HTTPCode: http.StatusUnprocessableEntity,
				Message:  "missing id of edit 1",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			handler := requestHandler{}
			validationError := handler.ValidateEdits(tc.Edits)
			assert.Equal(t, tc.ExpectedError, validationError)
		})
	}
}

func TestRequestHandler(t *testing.T) {
	key := vuln.NewKey("publisher", "main")
	list := []vuln.Vulnerability{
		withSeverity("A", "pkg1", vuln.StateNew, "high"),
		withSeverity("B", "pkg2", vuln.StateIgnored, "low"),
		withSeverity("C", "pkg3", vuln.StateNew, "low"),
	}

	testCases := []struct {
		name                string
		method              string
		target              string
		body                string
		expectations        []*mock.Expectation
		expectedStatus      int
		expectedContentType string
		expectedBody        string
	}{
		{
			name:   "Should return reconciled vulnerabilities",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/main/vulnerabilities",
			expectations: []*mock.Expectation{{
				Method:     "GetVulnerabilities",
				Args:       []interface{}{tmock.Anything, key},
				ReturnArgs: []interface{}{list[:1], nil},
			}},
			expectedStatus:      http.StatusOK,
			expectedContentType: "application/vnd.vuln-tracker.vulnerabilities+json; version=1.0",
			expectedBody:        `[{"id":"A","from":"pkg1","state":"new","severity":"high"}]`,
		},
		{
			name:   "Should filter vulnerabilities by state and severity",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/main/vulnerabilities?state=new&severity=LOW",
			expectations: []*mock.Expectation{{
				Method:     "GetVulnerabilities",
				Args:       []interface{}{tmock.Anything, key},
				ReturnArgs: []interface{}{list, nil},
			}},
			expectedStatus:      http.StatusOK,
			expectedContentType: "application/vnd.vuln-tracker.vulnerabilities+json; version=1.0",
			expectedBody:        `[{"id":"C","from":"pkg3","state":"new","severity":"low"}]`,
		},
		{
			name:   "Should return not found when scan report is missing",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/main/vulnerabilities",
			expectations: []*mock.Expectation{{
				Method:     "GetVulnerabilities",
				Args:       []interface{}{tmock.Anything, key},
				ReturnArgs: []interface{}{nil, xerrors.Errorf("publisher.json: %w", report.ErrNotFound)},
			}},
			expectedStatus:      http.StatusNotFound,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"getting vulnerabilities: publisher.json: scan report not found"}}`,
		},
		{
			name:   "Should return unprocessable entity when scan report is malformed",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/main/vulnerabilities",
			expectations: []*mock.Expectation{{
				Method:     "GetVulnerabilities",
				Args:       []interface{}{tmock.Anything, key},
				ReturnArgs: []interface{}{nil, &report.MalformedError{Reason: "missing vulnerabilities field"}},
			}},
			expectedStatus:      http.StatusUnprocessableEntity,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"getting vulnerabilities: malformed scan report: missing vulnerabilities field"}}`,
		},
		{
			name:   "Should return internal server error when store is corrupted",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/main/vulnerabilities",
			expectations: []*mock.Expectation{{
				Method:     "GetVulnerabilities",
				Args:       []interface{}{tmock.Anything, key},
				ReturnArgs: []interface{}{nil, persistence.Corrupted(xerrors.New("unexpected EOF"))},
			}},
			expectedStatus:      http.StatusInternalServerError,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"getting vulnerabilities: store corrupted: unexpected EOF"}}`,
		},
		{
			name:                "Should return bad request on invalid portal name",
			method:              http.MethodGet,
			target:              "/api/v1/portals/a..b/branches/main/vulnerabilities",
			expectedStatus:      http.StatusBadRequest,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"invalid portal name: \"a..b\""}}`,
		},
		{
			name:   "Should apply triage edits",
			method: http.MethodPut,
			target: "/api/v1/portals/publisher/branches/main/vulnerabilities",
			body:   `[{"id":"A","state":"ignored","comment":"c"},{"id":"Z","state":"resolved"}]`,
			expectations: []*mock.Expectation{{
				Method: "ApplyTriageEdits",
				Args: []interface{}{tmock.Anything, key, []vuln.Edit{
					{ID: "A", State: vuln.StateIgnored, Comment: "c"},
					{ID: "Z", State: vuln.StateResolved},
				}},
				ReturnArgs: []interface{}{triage.Outcome{Applied: 1, Unknown: 1}, nil},
			}},
			expectedStatus:      http.StatusOK,
			expectedContentType: "application/vnd.vuln-tracker.triage.outcome+json; version=1.0",
			expectedBody:        `{"applied":1,"unknown":1}`,
		},
		{
			name:                "Should return bad request on invalid edits body",
			method:              http.MethodPut,
			target:              "/api/v1/portals/publisher/branches/main/vulnerabilities",
			body:                `{"id":`,
			expectedStatus:      http.StatusBadRequest,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"unmarshalling triage edits: unexpected EOF"}}`,
		},
		{
			name:                "Should return unprocessable entity on edit without id",
			method:              http.MethodPut,
			target:              "/api/v1/portals/publisher/branches/main/vulnerabilities",
			body:                `[{"state":"ignored"}]`,
			expectedStatus:      http.StatusUnprocessableEntity,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"missing id of edit 0"}}`,
		},
		{
			name:   "Should return not found when triaging a branch never reconciled",
			method: http.MethodPut,
			target: "/api/v1/portals/publisher/branches/feature-x/vulnerabilities",
			body:   `[{"id":"A","state":"ignored"}]`,
			expectations: []*mock.Expectation{{
				Method:     "ApplyTriageEdits",
				Args:       []interface{}{tmock.Anything, vuln.NewKey("publisher", "feature-x"), []vuln.Edit{{ID: "A", State: vuln.StateIgnored}}},
				ReturnArgs: []interface{}{triage.Outcome{}, xerrors.Errorf("publisher/feature-x: %w", triage.ErrNotFound)},
			}},
			expectedStatus:      http.StatusNotFound,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"applying triage edits: publisher/feature-x: no vulnerabilities recorded"}}`,
		},
		{
			name:   "Should return internal server error when store write fails",
			method: http.MethodPut,
			target: "/api/v1/portals/publisher/branches/main/vulnerabilities",
			body:   `[{"id":"A","state":"ignored"}]`,
			expectations: []*mock.Expectation{{
				Method:     "ApplyTriageEdits",
				Args:       []interface{}{tmock.Anything, key, []vuln.Edit{{ID: "A", State: vuln.StateIgnored}}},
				ReturnArgs: []interface{}{triage.Outcome{}, persistence.WriteFailed(xerrors.New("disk full"))},
			}},
			expectedStatus:      http.StatusInternalServerError,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"applying triage edits: store write failed: disk full"}}`,
		},
		{
			name:   "Should return current state",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/main/state",
			expectations: []*mock.Expectation{{
				Method:     "CurrentState",
				Args:       []interface{}{tmock.Anything, key},
				ReturnArgs: []interface{}{list[1:2], nil},
			}},
			expectedStatus:      http.StatusOK,
			expectedContentType: "application/vnd.vuln-tracker.vulnerabilities+json; version=1.0",
			expectedBody:        `[{"id":"B","from":"pkg2","state":"ignored","severity":"low"}]`,
		},
		{
			name:   "Should return not found when no state is recorded",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/main/state",
			expectations: []*mock.Expectation{{
				Method:     "CurrentState",
				Args:       []interface{}{tmock.Anything, key},
				ReturnArgs: []interface{}{nil, xerrors.Errorf("publisher/main: %w", tracker.ErrNotFound)},
			}},
			expectedStatus:      http.StatusNotFound,
			expectedContentType: "application/vnd.vuln-tracker.error+json; version=1.0",
			expectedBody:        `{"error":{"message":"getting current state: publisher/main: no vulnerabilities recorded"}}`,
		},
		{
			name:   "Should return last modified time in milliseconds",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/main/last-modified",
			expectations: []*mock.Expectation{{
				Method:     "GetLastModified",
				Args:       []interface{}{tmock.Anything, key},
				ReturnArgs: []interface{}{time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC), nil},
			}},
			expectedStatus:      http.StatusOK,
			expectedContentType: "application/vnd.vuln-tracker.last-modified+json; version=1.0",
			expectedBody:        `{"last_modified":1715941800000}`,
		},
		{
			name:   "Should return epoch when scan report is missing",
			method: http.MethodGet,
			target: "/api/v1/portals/publisher/branches/release/last-modified",
			expectations: []*mock.Expectation{{
				Method:     "GetLastModified",
				Args:       []interface{}{tmock.Anything, vuln.NewKey("publisher", "release")},
				ReturnArgs: []interface{}{time.Unix(0, 0).UTC(), nil},
			}},
			expectedStatus:      http.StatusOK,
			expectedContentType: "application/vnd.vuln-tracker.last-modified+json; version=1.0",
			expectedBody:        `{"last_modified":0}`,
		},
		{
			name:                "Should return build metadata",
			method:              http.MethodGet,
			target:              "/api/v1/metadata",
			expectedStatus:      http.StatusOK,
			expectedContentType: "application/json",
			expectedBody:        `{"version":"1.0","commit":"abc","date":"2024-05-17T10:30"}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := mock.NewTracker()
			mock.ApplyExpectations(t, tr, tc.expectations...)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			NewAPIHandler(buildInfo, tr).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Equal(t, tc.expectedContentType, rr.Header().Get(api.HeaderContentType))
			assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			tr.AssertExpectations(t)
		})
	}
}

func TestRequestHandler_Probes(t *testing.T) {
	handler := NewAPIHandler(buildInfo, mock.NewTracker())

	for _, target := range []string{"/probe/healthy", "/probe/ready"} {
		t.Run(target, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
			assert.Equal(t, http.StatusOK, rr.Code)
		})
	}
}

func TestRequestHandler_LastModifiedHeader(t *testing.T) {
	key := vuln.NewKey("admin", "main")
	tr := mock.NewTracker()
	tr.On("GetLastModified", tmock.Anything, key).Return(time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC), nil)

	rr := httptest.NewRecorder()
	NewAPIHandler(buildInfo, tr).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/portals/admin/branches/main/last-modified", nil))

	assert.Equal(t, "Fri, 17 May 2024 10:30:00 GMT", rr.Header().Get(api.HeaderLastModified))
}
