package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
)

type Store struct {
	mock.Mock
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Load(ctx context.Context) (*persistence.Snapshot, bool, error) {
	args := s.Called(ctx)
	snapshot, _ := args.Get(0).(*persistence.Snapshot)
	return snapshot, args.Bool(1), args.Error(2)
}

func (s *Store) Save(ctx context.Context, snapshot *persistence.Snapshot) error {
	args := s.Called(ctx, snapshot)
	return args.Error(0)
}
