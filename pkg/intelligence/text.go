package intelligence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "of": {}, "in": {}, "on": {}, "for": {},
	"with": {}, "using": {}, "use": {}, "and": {}, "or": {}, "is": {}, "are": {},
	"be": {}, "by": {}, "at": {}, "as": {}, "it": {}, "this": {}, "that": {},
	"from": {}, "via": {}, "into": {},
}

// words splits text into lower-cased letter/digit runs.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// wordSet returns the distinct lower-cased words of text.
func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(text) {
		set[w] = struct{}{}
	}
	return set
}

// contentSet returns distinct content words: stopwords dropped and a plural
// "s" stripped.
func contentSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(text) {
		if _, stop := stopwords[w]; stop {
			continue
		}
		if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
			w = strings.TrimSuffix(w, "s")
		}
		set[w] = struct{}{}
	}
	return set
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

// Jaccard returns |a∩b| / |a∪b|; two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	inter := intersectionSize(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

var negations = map[string]struct{}{
	"not": {}, "never": {}, "no": {}, "don": {}, "doesn": {}, "isn": {},
	"won": {}, "cannot": {}, "without": {}, "avoid": {},
}

func negated(set map[string]struct{}) bool {
	for w := range set {
		if _, ok := negations[w]; ok {
			return true
		}
	}
	return false
}

// textSimilarity scores near-duplicate texts on their content words.
//
// It is the Jaccard index, raised to the containment |a∩b|/min(|a|,|b|) when
// the smaller set has at least three words, the larger adds at most one
// word, and both texts agree on negation. "Deploy to production using
// Docker" and "Deploy to production with Docker containers" group;
// "Deploy the API" and "Never deploy the API on Fridays" do not.
func textSimilarity(a, b map[string]struct{}) (combined, jaccard float64) {
	jaccard = Jaccard(a, b)
	small, large := len(a), len(b)
	if small > large {
		small, large = large, small
	}
	combined = jaccard
	if small >= 3 && large <= small+1 && negated(a) == negated(b) {
		if c := float64(intersectionSize(a, b)) / float64(small); c > combined {
			combined = c
		}
	}
	return combined, jaccard
}

// sharedLongWords counts distinct words longer than four characters present
// in both texts.
func sharedLongWords(a, b string) int {
	long := func(text string) map[string]struct{} {
		set := make(map[string]struct{})
		for w := range wordSet(text) {
			if utf8.RuneCountInString(w) > 4 {
				set[w] = struct{}{}
			}
		}
		return set
	}
	return intersectionSize(long(a), long(b))
}

func tagsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}
