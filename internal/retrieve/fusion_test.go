package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuse(t *testing.T) {
	texts := []string{"alpha", "beta", "alpha", "gamma"}
	ids := []string{"a#0", "b#0", "c#0", "d#0"}

	tests := []struct {
		name  string
		limit int
		lists []Candidates
		want  []Hit
	}{
		{
			name:  "lexical precedes vector",
			limit: 4,
			lists: []Candidates{
				{Source: SourceLexical, Positions: []int{1}},
				{Source: SourceVector, Positions: []int{3, 1}},
			},
			want: []Hit{
				{Text: "beta", ChunkID: "b#0", Source: SourceLexical},
				{Text: "gamma", ChunkID: "d#0", Source: SourceVector},
			},
		},
		{
			name:  "dedup by exact text across positions",
			limit: 4,
			lists: []Candidates{
				{Source: SourceLexical, Positions: []int{0, 2}},
				{Source: SourceVector, Positions: []int{2}},
			},
			want: []Hit{{Text: "alpha", ChunkID: "a#0", Source: SourceLexical}},
		},
		{
			name:  "capped at limit",
			limit: 2,
			lists: []Candidates{
				{Source: SourceLexical, Positions: []int{0, 1}},
				{Source: SourceVector, Positions: []int{3}},
			},
			want: []Hit{
				{Text: "alpha", ChunkID: "a#0", Source: SourceLexical},
				{Text: "beta", ChunkID: "b#0", Source: SourceLexical},
			},
		},
		{
			name:  "out of range positions ignored",
			limit: 4,
			lists: []Candidates{{Source: SourceVector, Positions: []int{-1, 9, 3}}},
			want:  []Hit{{Text: "gamma", ChunkID: "d#0", Source: SourceVector}},
		},
		{
			name:  "no candidates",
			limit: 4,
			want:  []Hit{},
		},
		{
			name:  "zero limit",
			limit: 0,
			lists: []Candidates{{Source: SourceLexical, Positions: []int{0}}},
			want:  []Hit{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(texts, ids, tt.limit, tt.lists...)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFuse_CaseDifferencesAreDistinct(t *testing.T) {
	got := Fuse([]string{"Leave", "leave"}, nil, 4,
		Candidates{Source: SourceLexical, Positions: []int{0, 1}})

	assert.Len(t, got, 2)
	assert.Empty(t, got[0].ChunkID)
}
