package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "alice", "alice", 1},
		{"both empty", "", "", 1},
		{"one empty", "abc", "", 0},
		{"case insensitive", "Alice Smith", "alice smith", 1},
		{"one substitution", "kitten", "sitten", 5.0 / 6.0},
		{"classic", "kitten", "sitting", 4.0 / 7.0},
		{"unicode counts runes", "café", "cafe", 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	assert.Equal(t, Similarity("Alice Smith Consulting", "Alice Smith"), Similarity("Alice Smith", "Alice Smith Consulting"))
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "alice.smith", LocalPart(" Alice.Smith@Example.com "))
	assert.Equal(t, "weird@local", LocalPart("weird@local@host"))
	assert.Equal(t, "nodomain", LocalPart("nodomain"))
}

func TestBestWindow(t *testing.T) {
	// whole-string distance alone would be 0.5
	assert.InDelta(t, 0.5, Similarity("Alice Smith Consulting", "Alice Smith"), 1e-9)
	assert.InDelta(t, 1.0, BestWindow("Alice Smith Consulting", "Alice Smith"), 1e-9)
	assert.InDelta(t, 1.0, BestWindow("The Alice Smith Group", "alice smith"), 1e-9)
	assert.Less(t, BestWindow("Acme Robotics Ltd", "Alice Smith"), 0.7)
	assert.InDelta(t, Similarity("Acme", "Alice Smith"), BestWindow("Acme", "Alice Smith"), 1e-9)
	assert.InDelta(t, 1.0, BestWindow("", ""), 1e-9)
}
