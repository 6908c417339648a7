package persistence

import (
	"encoding/json"
	"sort"

	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

// Snapshot maps each portal branch to its reconciled vulnerability list.
type Snapshot struct {
	entries map[vuln.Key][]vuln.Vulnerability
}

// Entry is the serialized form of one snapshot entry.
type Entry struct {
	Portal          string               `json:"portal"`
	Branch          string               `json:"branch"`
	Vulnerabilities []vuln.Vulnerability `json:"vulnerabilities"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		entries: make(map[vuln.Key][]vuln.Vulnerability),
	}
}

// Entry returns the list stored under key.
func (s *Snapshot) Entry(key vuln.Key) ([]vuln.Vulnerability, bool) {
	list, ok := s.entries[key]
	return list, ok
}

// PutEntry replaces the list stored under key. The snapshot still has to be saved.
func (s *Snapshot) PutEntry(key vuln.Key, list []vuln.Vulnerability) {
	if list == nil {
		list = []vuln.Vulnerability{}
	}
	s.entries[key] = list
}

// Keys returns the keys of all entries ordered by portal and branch.
func (s *Snapshot) Keys() []vuln.Key {
	keys := make([]vuln.Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Portal != keys[j].Portal {
			return keys[i].Portal < keys[j].Portal
		}
		return keys[i].Branch < keys[j].Branch
	})
	return keys
}

func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Entries returns the snapshot as a list ordered by key.
func (s *Snapshot) Entries() []Entry {
	keys := s.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{
			Portal:          k.Portal,
			Branch:          k.Branch,
			Vulnerabilities: s.entries[k],
		})
	}
	return entries
}

// SnapshotOf builds a snapshot from serialized entries. Later entries win on
// duplicate keys.
func SnapshotOf(entries []Entry) *Snapshot {
	s := NewSnapshot()
	for _, e := range entries {
		s.PutEntry(vuln.Key{Portal: e.Portal, Branch: e.Branch}, e.Vulnerabilities)
	}
	return s
}

type snapshotDocument struct {
	Entries []Entry `json:"entries"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotDocument{Entries: s.Entries()})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*s = *SnapshotOf(doc.Entries)
	return nil
}
