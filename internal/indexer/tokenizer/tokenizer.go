// Package tokenizer turns free text into normalised search terms. Input is
// lower-cased, stripped of everything except ASCII letters, digits and
// whitespace, split on whitespace, and terms of two characters or fewer are
// dropped.
//
// Two entry points exist. Tokenize is the plain normaliser used by the code
// lookup indexes. Analyze additionally removes English stop-words and backs
// the generic search engine.
package tokenizer

import (
	"strings"
	"unicode"
)

// MinTermLength is the shortest term kept by the tokenizer.
const MinTermLength = 3

var stopWords = map[string]struct{}{
	"the": {}, "of": {}, "and": {}, "a": {}, "to": {}, "in": {}, "is": {},
	"you": {}, "that": {}, "it": {}, "he": {}, "was": {}, "for": {}, "on": {},
	"are": {}, "as": {}, "with": {}, "his": {}, "they": {}, "i": {}, "at": {},
	"be": {}, "this": {}, "have": {}, "from": {}, "or": {}, "one": {}, "had": {},
	"by": {}, "word": {}, "but": {}, "not": {}, "what": {}, "all": {}, "were": {},
	"we": {}, "when": {}, "your": {}, "can": {}, "said": {}, "there": {},
	"use": {}, "an": {}, "each": {}, "which": {}, "she": {}, "do": {}, "how": {},
	"their": {}, "if": {}, "will": {}, "up": {}, "other": {}, "about": {},
	"out": {}, "many": {}, "then": {}, "them": {}, "these": {}, "so": {},
	"some": {}, "her": {}, "would": {}, "make": {}, "like": {}, "him": {},
	"into": {}, "time": {}, "has": {}, "look": {}, "two": {}, "more": {},
	"write": {}, "go": {}, "see": {}, "number": {}, "no": {}, "way": {},
	"could": {}, "people": {}, "my": {}, "than": {}, "first": {}, "water": {},
	"been": {}, "call": {}, "who": {}, "oil": {}, "its": {}, "now": {},
	"find": {},
}

// Tokenize returns the normalised terms of text in order of appearance.
// Duplicates are kept; callers that index decide how to collapse them.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) < MinTermLength {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}

// Analyze is Tokenize with stop-words removed.
func Analyze(text string) []string {
	terms := Tokenize(text)
	kept := terms[:0]
	for _, term := range terms {
		if IsStopWord(term) {
			continue
		}
		kept = append(kept, term)
	}
	return kept
}

// IsStopWord reports whether term is filtered by Analyze.
func IsStopWord(term string) bool {
	_, ok := stopWords[term]
	return ok
}

// Unique returns terms with later duplicates removed, keeping first-seen
// order.
func Unique(terms []string) []string {
	if len(terms) <= 1 {
		return terms
	}
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
