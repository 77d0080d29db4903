// Package keys derives the canonical storage keys for departments and
// documents. Every component that stores or looks up data by department or
// document id goes through this package so that save and lookup paths can
// never disagree on casing or escaping.
package keys

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/AnshuML/Aipl/internal/errors"
)

// MaxKeyLength bounds a normalized key in bytes.
const MaxKeyLength = 200

var separatorReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// Normalize returns the canonical form of s:
// control characters dropped, trimmed, lower-cased, path separators and
// parent-directory sequences replaced with '_', leading dots stripped.
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	s = strings.ToLower(strings.TrimSpace(s))
	s = separatorReplacer.Replace(s)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "_")
	}
	s = strings.TrimLeftFunc(s, func(r rune) bool { return r == '.' || unicode.IsSpace(r) })

	return strings.TrimRightFunc(s, unicode.IsSpace)
}

// Department normalizes and validates a department name.
func Department(name string) (string, error) {
	return validated("department", name)
}

// DocID normalizes and validates a document identifier.
func DocID(id string) (string, error) {
	return validated("document id", id)
}

func validated(kind, raw string) (string, error) {
	key := Normalize(raw)
	if key == "" {
		return "", errors.New(errors.ErrCodeInvalidKey, kind+" is empty after normalization", nil).
			WithDetail("input", raw)
	}
	if len(key) > MaxKeyLength {
		return "", errors.New(errors.ErrCodeInvalidKey, kind+" is too long", nil).
			WithDetail("length", strconv.Itoa(len(key)))
	}
	return key, nil
}
