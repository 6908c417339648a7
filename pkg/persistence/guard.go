package persistence

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Guard serializes every load-mutate-save cycle against a Store. Saves are
// whole-snapshot, so two unserialized writers touching different keys would
// silently drop each other's changes.
type Guard struct {
	mu    sync.Mutex
	store Store
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Update loads the snapshot, hands it to fn and saves it when fn succeeds.
// On first use fn receives an empty snapshot. Nothing is saved if fn fails.
func (g *Guard) Update(ctx context.Context, fn func(snapshot *Snapshot) error) error {
	return g.locked(ctx, func() error {
		snapshot, err := g.load(ctx)
		if err != nil {
			return err
		}
		if err = fn(snapshot); err != nil {
			return err
		}
		return g.store.Save(ctx, snapshot)
	})
}

// View loads the snapshot and hands it to fn without saving it.
func (g *Guard) View(ctx context.Context, fn func(snapshot *Snapshot) error) error {
	return g.locked(ctx, func() error {
		snapshot, err := g.load(ctx)
		if err != nil {
			return err
		}
		return fn(snapshot)
	})
}

func (g *Guard) load(ctx context.Context) (*Snapshot, error) {
	snapshot, found, err := g.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Debug("No persisted snapshot found, starting from an empty one")
		return NewSnapshot(), nil
	}
	return snapshot, nil
}

func (g *Guard) locked(ctx context.Context, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if locker, ok := g.store.(Locker); ok {
		unlock, err := locker.Lock(ctx)
		if err != nil {
			return xerrors.Errorf("acquiring store lock: %w", err)
		}
		defer unlock()
	}

	return fn()
}
