package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

// document is the part of a scan report the tracker cares about. A pointer
// tells a missing vulnerabilities field apart from an empty one.
type document struct {
	ProjectName     string                `json:"projectName"`
	Vulnerabilities *[]vuln.Vulnerability `json:"vulnerabilities"`
}

// Parse decodes a scan report into vulnerabilities, in report order, with
// unset triage states normalized to new.
//
// The document is either a single report object or an array of them, as
// produced for multi-project scans; the vulnerabilities of all projects are
// concatenated.
func Parse(r io.Reader) ([]vuln.Vulnerability, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, malformed("reading document", err)
	}

	var docs []document
	dec := json.NewDecoder(br)
	if first == '[' {
		err = dec.Decode(&docs)
	} else {
		var doc document
		err = dec.Decode(&doc)
		docs = []document{doc}
	}
	if err != nil {
		return nil, malformed("decoding document", err)
	}
	if _, err = dec.Token(); err != io.EOF {
		return nil, malformed("unexpected data after document", nil)
	}
	if len(docs) == 0 {
		return nil, malformed("missing vulnerabilities field", nil)
	}

	var vulnerabilities []vuln.Vulnerability
	for i, doc := range docs {
		if doc.Vulnerabilities == nil {
			return nil, malformed("missing vulnerabilities field", nil)
		}
		log.WithFields(log.Fields{
			"project":         doc.ProjectName,
			"index":           i,
			"vulnerabilities": len(*doc.Vulnerabilities),
		}).Trace("Parsing vulnerabilities")

		for _, v := range *doc.Vulnerabilities {
			if v.ID == "" {
				return nil, malformed("vulnerability without id", nil)
			}
			v.State = v.State.OrDefault()
			vulnerabilities = append(vulnerabilities, v)
		}
	}

	if vulnerabilities == nil {
		vulnerabilities = []vuln.Vulnerability{}
	}
	return vulnerabilities, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
