package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		s := gen.Generate().String()
		_, dup := seen[s]
		require.False(t, dup, "duplicate id %s", s)
		seen[s] = struct{}{}
	}
}

func TestGenerateSortable(t *testing.T) {
	gen := NewGenerator()
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = gen.Generate().String()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
	}{
		{"trace", NewTraceID().String(), TracePrefix},
		{"span", NewSpanID().String(), SpanPrefix},
		{"connection", NewConnectionID().String(), ConnectionPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.value, tt.prefix+"_"))
			assert.True(t, IsValid(tt.value))

			prefix, raw := Split(tt.value)
			assert.Equal(t, tt.prefix, prefix)
			assert.Len(t, raw, 26)
		})
	}
}

func TestIsValidRejectsGarbage(t *testing.T) {
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("trace_nope"))
	assert.True(t, IsValid(NewGenerator().Generate().String()))
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewSpanID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("span_invalid")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := gen.GenerateWithPrefix("x")
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1600)
}
