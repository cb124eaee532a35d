package memory

import (
	"testing"

	"github.com/ggoodman/casting-api/storage"
	"github.com/ggoodman/casting-api/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		return New()
	})
}
