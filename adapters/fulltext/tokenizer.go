package fulltext

import (
	"strings"
	"unicode"

	"github.com/amber7117/server-api/domain/natsort"
	"github.com/kljensen/snowball/english"
	"golang.org/x/text/cases"
)

// tokenize splits a field value into case-folded, trimmed and stemmed
// tokens. Arrays contribute the tokens of every element. No stop words are
// removed.
func tokenize(v any) []string {
	var out []string
	fold := cases.Fold()

	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case nil:
		case []any:
			for _, item := range val {
				walk(item)
			}
		case []string:
			for _, item := range val {
				walk(item)
			}
		default:
			text := fold.String(natsort.String(val))
			for _, word := range strings.FieldsFunc(text, isSeparator) {
				word = strings.TrimFunc(word, isNonWord)
				if word == "" {
					continue
				}
				out = append(out, english.Stem(word, false))
			}
		}
	}
	walk(v)
	return out
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == '-'
}

func isNonWord(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}
