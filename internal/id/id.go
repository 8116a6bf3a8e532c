// Package id provides typed, prefixed ULID generation for the resilience
// primitives.
//
// ULIDs are lexicographically sortable, so resource and request IDs sort
// by creation time, and the prefixes (res_*, req_*, bat_*) keep logs and
// event streams readable.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ResourceID identifies a pooled resource.
type ResourceID string

// RequestID identifies a batched request.
type RequestID string

// BatchID identifies one cut batch.
type BatchID string

const (
	ResourcePrefix = "res"
	RequestPrefix  = "req"
	BatchPrefix    = "bat"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator with the given entropy source.
// Useful for deterministic IDs in tests.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewResourceID generates a new pooled-resource ID.
func NewResourceID() ResourceID {
	return ResourceID(Default().GenerateWithPrefix(ResourcePrefix))
}

// NewRequestID generates a new batch-request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewBatchID generates a new batch ID.
func NewBatchID() BatchID {
	return BatchID(Default().GenerateWithPrefix(BatchPrefix))
}

func (id ResourceID) String() string { return string(id) }
func (id RequestID) String() string  { return string(id) }
func (id BatchID) String() string    { return string(id) }
