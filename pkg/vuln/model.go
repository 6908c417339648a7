package vuln

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// DefaultBranch is the canonical branch of a portal.
const DefaultBranch = "main"

// State is the triage status of a vulnerability. The set of states is open,
// the constants below are the ones the API and UI know about.
type State string

const (
	StateNew       State = "new"
	StateIgnored   State = "ignored"
	StateResolved  State = "resolved"
	StateConfirmed State = "confirmed"
)

func (s State) String() string {
	return string(s)
}

// OrDefault returns StateNew for a blank state.
func (s State) OrDefault() State {
	if strings.TrimSpace(string(s)) == "" {
		return StateNew
	}
	return s
}

// Key identifies the vulnerability list of a portal branch.
type Key struct {
	Portal string `json:"portal"`
	Branch string `json:"branch"`
}

func NewKey(portal, branch string) Key {
	if branch == "" {
		branch = DefaultBranch
	}
	return Key{Portal: portal, Branch: branch}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Portal, k.Branch)
}

// ReportName returns the name of the scan report resource for the key.
// Reports of the default branch are named after the portal only.
func (k Key) ReportName() string {
	if k.Branch == DefaultBranch {
		return k.Portal + ".json"
	}
	return k.Portal + "_" + k.Branch + ".json"
}

// Validate rejects keys that cannot be mapped safely onto a report resource.
func (k Key) Validate() error {
	if err := validateName("portal", k.Portal); err != nil {
		return err
	}
	return validateName("branch", k.Branch)
}

func validateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return xerrors.Errorf("%s name must not be blank", kind)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return xerrors.Errorf("invalid %s name: %q", kind, name)
	}
	return nil
}

// Origin is the dependency path through which a vulnerability was introduced.
// Scanners report it either as a plain string or as a chain of packages; the
// original shape is kept when encoding.
type Origin struct {
	Path  []string
	chain bool
}

// OriginOf returns a plain string origin.
func OriginOf(from string) Origin {
	return Origin{Path: []string{from}}
}

// Chain returns an origin made of a dependency chain.
func Chain(packages ...string) Origin {
	return Origin{Path: packages, chain: true}
}

func (o Origin) String() string {
	return strings.Join(o.Path, " > ")
}

// key encodes the origin in its reported shape, so a plain string and a chain
// with the same packages never compare equal.
func (o Origin) key() string {
	b, err := o.MarshalJSON()
	if err != nil {
		return o.String()
	}
	return string(b)
}

func (o Origin) IsZero() bool {
	return len(o.Path) == 0
}

func (o Origin) MarshalJSON() ([]byte, error) {
	if o.chain {
		if o.Path == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(o.Path)
	}
	return json.Marshal(o.String())
}

func (o *Origin) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*o = Origin{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var path []string
		if err := json.Unmarshal(data, &path); err != nil {
			return xerrors.Errorf("decoding dependency chain: %w", err)
		}
		*o = Chain(path...)
		return nil
	default:
		var from string
		if err := json.Unmarshal(data, &from); err != nil {
			return xerrors.Errorf("decoding origin: %w", err)
		}
		*o = OriginOf(from)
		return nil
	}
}

// Identity is the uniqueness key of a vulnerability within one list. The same
// advisory reached through two dependency paths is two vulnerabilities.
// From holds the JSON encoding of the origin.
type Identity struct {
	ID   string
	From string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s@%s", i.ID, i.From)
}

// Vulnerability is a single finding of a scan report together with its triage data.
type Vulnerability struct {
	ID      string
	From    Origin
	State   State
	Comment string

	// Fields holds the remaining scanner-reported attributes, untouched.
	Fields map[string]json.RawMessage
}

const (
	fieldID      = "id"
	fieldFrom    = "from"
	fieldState   = "state"
	fieldComment = "comment"
)

func (v Vulnerability) Identity() Identity {
	return Identity{ID: v.ID, From: v.From.key()}
}

func (v Vulnerability) Severity() string {
	return v.stringField("severity")
}

func (v Vulnerability) Title() string {
	return v.stringField("title")
}

func (v Vulnerability) PackageName() string {
	return v.stringField("packageName")
}

func (v Vulnerability) stringField(name string) string {
	raw, ok := v.Fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (v Vulnerability) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(v.Fields)+4)
	for k, raw := range v.Fields {
		doc[k] = raw
	}
	doc[fieldID] = v.ID
	doc[fieldFrom] = v.From
	doc[fieldState] = v.State
	if v.Comment != "" {
		doc[fieldComment] = v.Comment
	}
	return json.Marshal(doc)
}

func (v *Vulnerability) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var decoded Vulnerability
	for name, target := range map[string]interface{}{
		fieldID:      &decoded.ID,
		fieldFrom:    &decoded.From,
		fieldState:   &decoded.State,
		fieldComment: &decoded.Comment,
	} {
		raw, ok := doc[name]
		if !ok {
			continue
		}
		delete(doc, name)
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return xerrors.Errorf("decoding %s: %w", name, err)
		}
	}
	if len(doc) > 0 {
		decoded.Fields = doc
	}

	*v = decoded
	return nil
}

// Edit is a triage decision submitted by a user.
type Edit struct {
	ID      string `json:"id" yaml:"id"`
	State   State  `json:"state" yaml:"state"`
	Comment string `json:"comment" yaml:"comment"`
}
