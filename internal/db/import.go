package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// CopyDocuments writes every document held by src into dst under the same
// collection and id. Existing documents in dst are merged, so the copy can be
// rerun after a partial failure.
func CopyDocuments(ctx context.Context, src *MemoryStore, dst DocumentStore) (int, error) {
	copied := 0
	for _, name := range src.Collections() {
		docs, err := src.Query(ctx, name, nil)
		if err != nil {
			return copied, fmt.Errorf("read %s: %w", name, err)
		}
		for _, doc := range docs {
			fields := map[string]json.RawMessage{}
			if err := doc.Decode(&fields); err != nil {
				return copied, fmt.Errorf("decode %s/%s: %w", name, doc.ID(), err)
			}
			delete(fields, "id")
			if err := dst.Upsert(ctx, name, doc.ID(), fields); err != nil {
				return copied, fmt.Errorf("write %s/%s: %w", name, doc.ID(), err)
			}
			copied++
		}
		log.Printf("migrations: copied %d documents from %s", len(docs), name)
	}
	return copied, nil
}
