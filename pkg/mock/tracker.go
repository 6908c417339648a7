package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/aquasecurity/vuln-tracker/pkg/triage"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

type Tracker struct {
	mock.Mock
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) GetVulnerabilities(ctx context.Context, key vuln.Key) ([]vuln.Vulnerability, error) {
	args := t.Called(ctx, key)
	list, _ := args.Get(0).([]vuln.Vulnerability)
	return list, args.Error(1)
}

func (t *Tracker) ApplyTriageEdits(ctx context.Context, key vuln.Key, edits []vuln.Edit) (triage.Outcome, error) {
	args := t.Called(ctx, key, edits)
	return args.Get(0).(triage.Outcome), args.Error(1)
}

func (t *Tracker) GetLastModified(ctx context.Context, key vuln.Key) (time.Time, error) {
	args := t.Called(ctx, key)
	return args.Get(0).(time.Time), args.Error(1)
}

func (t *Tracker) CurrentState(ctx context.Context, key vuln.Key) ([]vuln.Vulnerability, error) {
	args := t.Called(ctx, key)
	list, _ := args.Get(0).([]vuln.Vulnerability)
	return list, args.Error(1)
}
