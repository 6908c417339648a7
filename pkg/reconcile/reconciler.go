package reconcile

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/metrics"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

// Stats summarizes what a merge did to a stored list.
type Stats struct {
	Added    int
	Retained int
	Removed  int
}

// Merge combines a previously stored list with a fresh report.
//
// Entries of old that are still reported keep their state and comment, and
// take the scanner fields of the fresh report. Entries of old missing from the
// report are dropped. Reported entries not seen before are appended with state
// new. Entries are matched by identity only, and duplicate identities in the
// report collapse to the first one.
func Merge(old, report []vuln.Vulnerability) ([]vuln.Vulnerability, Stats) {
	reported := make(map[vuln.Identity]vuln.Vulnerability, len(report))
	for _, v := range report {
		if _, ok := reported[v.Identity()]; !ok {
			reported[v.Identity()] = v
		}
	}

	var stats Stats
	merged := make([]vuln.Vulnerability, 0, len(report))
	seen := make(map[vuln.Identity]struct{}, len(report))

	for _, prior := range old {
		id := prior.Identity()
		fresh, ok := reported[id]
		if !ok {
			stats.Removed++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		fresh.State = prior.State.OrDefault()
		fresh.Comment = prior.Comment
		merged = append(merged, fresh)
		stats.Retained++
	}

	for _, v := range report {
		id := v.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		v.State = vuln.StateNew
		merged = append(merged, v)
		stats.Added++
	}

	return merged, stats
}

// Initial returns the list stored for a key seen for the first time: the
// report itself, without duplicate identities.
func Initial(report []vuln.Vulnerability) []vuln.Vulnerability {
	list := make([]vuln.Vulnerability, 0, len(report))
	seen := make(map[vuln.Identity]struct{}, len(report))
	for _, v := range report {
		id := v.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		v.State = v.State.OrDefault()
		list = append(list, v)
	}
	return list
}

// Reconciler merges fresh reports into the persisted state.
type Reconciler struct {
	guard *persistence.Guard
}

func NewReconciler(guard *persistence.Guard) *Reconciler {
	return &Reconciler{guard: guard}
}

// Reconcile merges report into the list stored under key, persists the whole
// snapshot and returns the merged list. Nothing is persisted on error.
func (r *Reconciler) Reconcile(ctx context.Context, key vuln.Key, report []vuln.Vulnerability) ([]vuln.Vulnerability, error) {
	var (
		result []vuln.Vulnerability
		stats  Stats
		first  bool
	)

	err := r.guard.Update(ctx, func(snapshot *persistence.Snapshot) error {
		old, ok := snapshot.Entry(key)
		if ok {
			result, stats = Merge(old, report)
		} else {
			first = true
			result = Initial(report)
			stats = Stats{Added: len(result)}
		}
		snapshot.PutEntry(key, result)
		return nil
	})
	if err != nil {
		metrics.ReconciliationFailed()
		return nil, xerrors.Errorf("reconciling %s: %w", key, err)
	}

	log.WithFields(log.Fields{
		"portal":   key.Portal,
		"branch":   key.Branch,
		"first":    first,
		"added":    stats.Added,
		"retained": stats.Retained,
		"removed":  stats.Removed,
	}).Info("Reconciled scan report")
	metrics.ObserveReconciliation(key, stats.Added, stats.Retained, stats.Removed, result)

	return result, nil
}
