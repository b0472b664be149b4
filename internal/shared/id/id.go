// Package id provides ULID generation for the shell.
//
// IDs are lexicographically sortable and carry a short type prefix so they
// read well in logs (trace_*, span_*, conn_*).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed IDs
// ============================================================================

// TraceID identifies one logical operation across execution contexts
type TraceID string

// SpanID identifies a single dispatched call inside a trace
type SpanID string

// ConnectionID identifies a websocket bridge connection
type ConnectionID string

const (
	TracePrefix      = "trace"
	SpanPrefix       = "span"
	ConnectionPrefix = "conn"
)

// ============================================================================
// Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by monotonic crypto entropy
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful in tests that need deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewTraceID generates a trace ID
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

// NewConnectionID generates a bridge connection ID
func NewConnectionID() ConnectionID {
	return ConnectionID(Default().GenerateWithPrefix(ConnectionPrefix))
}

func (id TraceID) String() string      { return string(id) }
func (id SpanID) String() string       { return string(id) }
func (id ConnectionID) String() string { return string(id) }

// ============================================================================
// Parsing
// ============================================================================

// Split separates a prefixed id into prefix and ULID part. Unprefixed ids
// return an empty prefix.
func Split(s string) (prefix, raw string) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// IsValid reports whether s, with or without prefix, holds a valid ULID
func IsValid(s string) bool {
	_, raw := Split(s)
	_, err := ulid.Parse(raw)
	return err == nil
}

// Timestamp extracts the creation time of a (possibly prefixed) id
func Timestamp(s string) (time.Time, error) {
	_, raw := Split(s)
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	return ulid.Time(parsed.Time()), nil
}
