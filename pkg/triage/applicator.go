package triage

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/metrics"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

// ErrNotFound is returned when edits target a portal branch that was never reconciled.
var ErrNotFound = xerrors.New("no vulnerabilities recorded")

// Outcome counts how the edits of a batch were applied.
type Outcome struct {
	Applied int `json:"applied"`
	Unknown int `json:"unknown"`
}

// Applicator applies triage edits onto the persisted state.
type Applicator struct {
	guard *persistence.Guard
}

func NewApplicator(guard *persistence.Guard) *Applicator {
	return &Applicator{guard: guard}
}

// Apply sets state and comment of every stored vulnerability whose id matches
// an edit. Edits are applied in order, so the last edit for an id wins. Edits
// for unknown ids are ignored.
func (a *Applicator) Apply(ctx context.Context, key vuln.Key, edits []vuln.Edit) (Outcome, error) {
	var outcome Outcome

	err := a.guard.Update(ctx, func(snapshot *persistence.Snapshot) error {
		list, ok := snapshot.Entry(key)
		if !ok {
			return xerrors.Errorf("%s: %w", key, ErrNotFound)
		}

		outcome = applyEdits(list, edits)
		if outcome.Applied == 0 {
			// Nothing changed, skip rewriting the snapshot.
			return errUnchanged
		}
		snapshot.PutEntry(key, list)
		return nil
	})
	if err != nil && err != errUnchanged {
		return Outcome{}, xerrors.Errorf("applying triage edits to %s: %w", key, err)
	}

	log.WithFields(log.Fields{
		"portal":  key.Portal,
		"branch":  key.Branch,
		"applied": outcome.Applied,
		"unknown": outcome.Unknown,
	}).Info("Applied triage edits")
	metrics.ObserveTriage(outcome.Applied, outcome.Unknown)

	return outcome, nil
}

var errUnchanged = xerrors.New("unchanged")

func applyEdits(list []vuln.Vulnerability, edits []vuln.Edit) Outcome {
	index := make(map[string][]int, len(list))
	for i, v := range list {
		index[v.ID] = append(index[v.ID], i)
	}

	var outcome Outcome
	for _, edit := range edits {
		positions, ok := index[edit.ID]
		if !ok {
			outcome.Unknown++
			continue
		}
		for _, i := range positions {
			list[i].State = edit.State.OrDefault()
			list[i].Comment = edit.Comment
		}
		outcome.Applied++
	}
	return outcome
}
