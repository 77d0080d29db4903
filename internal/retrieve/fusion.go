package retrieve

// Source names the ranker that contributed a passage.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
)

// Candidates is one ranker's output: positions into the corpus, best first.
type Candidates struct {
	Source    Source
	Positions []int
}

// Hit is a fused passage with its provenance.
type Hit struct {
	Text    string
	ChunkID string
	Source  Source
}

// Fuse concatenates candidate lists in the order given and drops any
// passage whose exact text was already emitted. No scores are compared;
// earlier lists win. The result holds at most limit hits, and positions
// outside texts are ignored.
func Fuse(texts, chunkIDs []string, limit int, lists ...Candidates) []Hit {
	// Return empty slice, not nil, for consistent API behavior.
	hits := []Hit{}
	if limit <= 0 {
		return hits
	}
	seen := make(map[string]struct{})

	for _, list := range lists {
		for _, pos := range list.Positions {
			if pos < 0 || pos >= len(texts) {
				continue
			}
			text := texts[pos]
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}

			hit := Hit{Text: text, Source: list.Source}
			if pos < len(chunkIDs) {
				hit.ChunkID = chunkIDs[pos]
			}
			hits = append(hits, hit)
			if len(hits) == limit {
				return hits
			}
		}
	}
	return hits
}
