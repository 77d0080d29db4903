package lexical

import (
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Analyzer turns text into lower-case terms.
type Analyzer interface {
	Terms(text string) []string
}

// UnicodeAnalyzer splits on Unicode word boundaries (UAX #29) and
// lower-cases, so "policy:" and "policy" are the same term.
type UnicodeAnalyzer struct {
	tokenizer analysis.Tokenizer
	lower     analysis.TokenFilter
	stopWords map[string]struct{}
}

// NewUnicodeAnalyzer returns the default analyzer. Terms in stopWords are
// dropped after lower-casing.
func NewUnicodeAnalyzer(stopWords ...string) *UnicodeAnalyzer {
	return &UnicodeAnalyzer{
		tokenizer: bleveunicode.NewUnicodeTokenizer(),
		lower:     lowercase.NewLowerCaseFilter(),
		stopWords: buildStopWordMap(stopWords),
	}
}

func (a *UnicodeAnalyzer) Terms(text string) []string {
	stream := a.lower.Filter(a.tokenizer.Tokenize([]byte(text)))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		term := string(tok.Term)
		if _, stop := a.stopWords[term]; stop {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

// WhitespaceAnalyzer splits on whitespace and lower-cases, trimming
// punctuation at token edges.
type WhitespaceAnalyzer struct {
	stopWords map[string]struct{}
}

func NewWhitespaceAnalyzer(stopWords ...string) *WhitespaceAnalyzer {
	return &WhitespaceAnalyzer{stopWords: buildStopWordMap(stopWords)}
}

func (a *WhitespaceAnalyzer) Terms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f == "" {
			continue
		}
		if _, stop := a.stopWords[f]; stop {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// AnalyzerByName maps a config value to an analyzer. Unknown names fall back
// to the Unicode analyzer.
func AnalyzerByName(name string, stopWords ...string) Analyzer {
	if name == "whitespace" {
		return NewWhitespaceAnalyzer(stopWords...)
	}
	return NewUnicodeAnalyzer(stopWords...)
}

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
