package ingest

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits a document's text into stored chunks.
type Chunker interface {
	Chunk(text string) []string
}

// ParagraphChunker packs blank-line separated paragraphs into chunks of at
// most MaxChars characters. MaxChars <= 0 keeps the whole document as one
// chunk. A paragraph longer than MaxChars is split at the last whitespace
// before the limit, or hard at the limit when there is none.
type ParagraphChunker struct {
	MaxChars int
}

var _ Chunker = ParagraphChunker{}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

// Chunk returns nil for blank text.
func (c ParagraphChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.MaxChars <= 0 || utf8.RuneCountInString(text) <= c.MaxChars {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if n > c.MaxChars {
			flush()
			chunks = append(chunks, splitLong(para, c.MaxChars)...)
			continue
		}
		// +2 for the paragraph separator.
		if curLen > 0 && curLen+2+n > c.MaxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(para)
		curLen += n
	}
	flush()
	return chunks
}

func splitLong(s string, limit int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		part := strings.TrimSpace(string(runes[:cut]))
		if part != "" {
			out = append(out, part)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		out = append(out, rest)
	}
	return out
}
