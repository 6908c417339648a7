// Package tracker exposes the operations of the vulnerability tracker to its
// outer surfaces.
package tracker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/reconcile"
	"github.com/aquasecurity/vuln-tracker/pkg/report"
	"github.com/aquasecurity/vuln-tracker/pkg/triage"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

// ErrNotFound is returned when nothing has been recorded for a portal branch yet.
var ErrNotFound = triage.ErrNotFound

type Tracker interface {
	// GetVulnerabilities reconciles the current scan report of key with the
	// persisted state and returns the reconciled list.
	GetVulnerabilities(ctx context.Context, key vuln.Key) ([]vuln.Vulnerability, error)
	// ApplyTriageEdits applies edits onto the persisted list of key.
	ApplyTriageEdits(ctx context.Context, key vuln.Key, edits []vuln.Edit) (triage.Outcome, error)
	// GetLastModified returns the modification time of the scan report of key.
	GetLastModified(ctx context.Context, key vuln.Key) (time.Time, error)
	// CurrentState returns the persisted list of key without reconciling.
	CurrentState(ctx context.Context, key vuln.Key) ([]vuln.Vulnerability, error)
}

type tracker struct {
	source     report.Source
	guard      *persistence.Guard
	reconciler *reconcile.Reconciler
	applicator *triage.Applicator
}

// NewTracker constructs a Tracker reading reports from source and keeping its
// state in store. Every operation of the returned Tracker is serialized
// against store.
func NewTracker(source report.Source, store persistence.Store) Tracker {
	guard := persistence.NewGuard(store)
	return &tracker{
		source:     source,
		guard:      guard,
		reconciler: reconcile.NewReconciler(guard),
		applicator: triage.NewApplicator(guard),
	}
}

func (t *tracker) GetVulnerabilities(ctx context.Context, key vuln.Key) ([]vuln.Vulnerability, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	fresh, err := t.readReport(key)
	if err != nil {
		return nil, err
	}

	return t.reconciler.Reconcile(ctx, key, fresh)
}

func (t *tracker) readReport(key vuln.Key) ([]vuln.Vulnerability, error) {
	rc, err := t.source.Open(key)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.WithError(err).Warn("Error while closing scan report")
		}
	}()

	list, err := report.Parse(rc)
	if err != nil {
		return nil, xerrors.Errorf("parsing scan report %s: %w", key.ReportName(), err)
	}
	log.WithFields(log.Fields{
		"portal":          key.Portal,
		"branch":          key.Branch,
		"vulnerabilities": len(list),
	}).Debug("Parsed scan report")
	return list, nil
}

func (t *tracker) ApplyTriageEdits(ctx context.Context, key vuln.Key, edits []vuln.Edit) (triage.Outcome, error) {
	if err := key.Validate(); err != nil {
		return triage.Outcome{}, err
	}
	return t.applicator.Apply(ctx, key, edits)
}

func (t *tracker) GetLastModified(_ context.Context, key vuln.Key) (time.Time, error) {
	return t.source.ModTime(key)
}

func (t *tracker) CurrentState(ctx context.Context, key vuln.Key) ([]vuln.Vulnerability, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var list []vuln.Vulnerability
	err := t.guard.View(ctx, func(snapshot *persistence.Snapshot) error {
		entry, ok := snapshot.Entry(key)
		if !ok {
			return xerrors.Errorf("%s: %w", key, ErrNotFound)
		}
		list = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}
