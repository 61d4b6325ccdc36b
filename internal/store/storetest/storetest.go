// Package storetest opens isolated in-memory stores for tests.
package storetest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/abhisek/pathwise/internal/store"
)

// Open returns a store backed by a private in-memory SQLite database that is
// closed when the test ends. Batch chunks are not delayed.
func Open(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	s, err := store.Open(store.Config{
		DSN:        fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		ChunkSize:  10,
		ChunkDelay: 0,
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
