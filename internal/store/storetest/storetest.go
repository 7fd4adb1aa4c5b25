// Package storetest opens throwaway sqlite-backed stores for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuaslong/labor-membership-sub000/internal/store"
)

// Open returns a migrated store backed by a fresh sqlite file that is
// removed when the test ends.
func Open(t testing.TB) *store.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "chaptercal.db") + "?_pragma=busy_timeout(5000)"
	st, err := store.Open(store.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { _ = st.Close() })
	return st
}
