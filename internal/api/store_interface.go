package api

import (
	"context"

	"github.com/soaringjerry/Mindwell/internal/db"
	"github.com/soaringjerry/Mindwell/internal/services"
)

// Store is the document store the router persists through.
type Store = db.DocumentStore

var (
	_ Store = (*db.MemoryStore)(nil)
	_ Store = (*db.SQLiteStore)(nil)
	_ Store = (*db.MongoStore)(nil)
)

var (
	_ db.UniqueIndexer = (*db.MemoryStore)(nil)
	_ db.UniqueIndexer = (*db.SQLiteStore)(nil)
	_ db.UniqueIndexer = (*db.MongoStore)(nil)
)

// EnsureIndexes creates the unique indexes the services rely on. Stores that
// cannot enforce uniqueness are left alone.
func EnsureIndexes(ctx context.Context, store Store) error {
	ix, ok := store.(db.UniqueIndexer)
	if !ok {
		return nil
	}
	return ix.EnsureUniqueIndex(ctx, services.ReportsCollection, "session_id")
}
