// Package vector is the embedding store behind episodic memory and
// document RAG. The default backend is pure-Go SQLite with in-process
// brute-force cosine search; swap in a server-backed store by
// implementing EmbeddingStore.
package vector

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
)

// Dim is the embedding width every Embedder must produce.
const Dim = 384

// UpsertBatchSize bounds one insert transaction so a large document
// upload cannot monopolize memory.
const UpsertBatchSize = 50

// Embedder turns texts into fixed-width vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Entry is one vector with its payload.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
	Text     string
}

// Result is one search hit. Distance is monotonic (0 = identical);
// callers convert to similarity via 1/(1+distance).
type Result struct {
	ID       string
	Metadata map[string]string
	Text     string
	Distance float64
}

// Similarity converts a distance to the 0..1 similarity scale.
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

// EmbeddingStore is the persistence contract. A (collection, id) pair
// holds at most one vector; re-upsert replaces.
type EmbeddingStore interface {
	Upsert(ctx context.Context, collection string, entries []Entry) error
	Search(ctx context.Context, collection string, query []float32, k int, filter map[string]string) ([]Result, error)
	DeleteWhere(ctx context.Context, collection string, filter map[string]string) error
	Count(ctx context.Context, collection string) (int, error)
}

// KnowledgeCollection names the document-RAG collection for an agent.
func KnowledgeCollection(agentID uuid.UUID) string {
	return fmt.Sprintf("knowledge_agent_%s", agentID)
}

// MessagesCollection names the episodic collection for an agent and
// memory key. The key is hashed so the collection name stays filesystem
// safe regardless of what the key contains.
func MessagesCollection(agentID uuid.UUID, memoryKey string) string {
	h := fnv.New32a()
	h.Write([]byte(memoryKey))
	return fmt.Sprintf("messages_%s_%08x", agentID, h.Sum32())
}
