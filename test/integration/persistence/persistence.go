package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/reconcile"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

// TestStoreInterface is a generic test that is intended to be called by the implementations of the Store interface
func TestStoreInterface(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	t.Run("Load before first save", func(t *testing.T) {
		_, found, err := store.Load(ctx)
		require.NoError(t, err, "loading empty store should not fail")
		assert.False(t, found)
	})

	t.Run("Save and load", func(t *testing.T) {
		snapshot := persistence.NewSnapshot()
		snapshot.PutEntry(vuln.NewKey("publisher", "main"), []vuln.Vulnerability{
			{ID: "CVE-2021-23337", From: vuln.Chain("publisher@4.2.0", "lodash@4.17.15"), State: vuln.StateIgnored, Comment: "dev only"},
		})
		snapshot.PutEntry(vuln.NewKey("devportal", "release"), nil)

		err := store.Save(ctx, snapshot)
		require.NoError(t, err, "saving snapshot should not fail")

		loaded, found, err := store.Load(ctx)
		require.NoError(t, err, "loading snapshot should not fail")
		require.True(t, found)
		assert.Equal(t, snapshot.Entries(), loaded.Entries())
	})

	t.Run("Concurrent reconciles", func(t *testing.T) {
		reconciler := reconcile.NewReconciler(persistence.NewGuard(store))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := vuln.NewKey(fmt.Sprintf("portal-%d", i), "main")
				_, err := reconciler.Reconcile(ctx, key, []vuln.Vulnerability{{ID: "A", From: vuln.OriginOf("pkg1")}})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		loaded, found, err := store.Load(ctx)
		require.NoError(t, err)
		require.True(t, found)
		for i := 0; i < 8; i++ {
			_, ok := loaded.Entry(vuln.NewKey(fmt.Sprintf("portal-%d", i), "main"))
			assert.True(t, ok, "entry of portal-%d should not be lost", i)
		}
	})
}
