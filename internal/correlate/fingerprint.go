package correlate

import (
	"math"
	"strings"
	"unicode"

	"github.com/sentinelstack/sentinel-heal/internal/models"
)

// tokenCounts is the raw term-frequency fingerprint of one alert.
type tokenCounts map[string]int

// vector is an idf-weighted, length-normalised fingerprint.
type vector map[string]float64

// tokenize extracts lowercase word tokens from the alert's name, message
// and labels. Label pairs are kept as single k:v tokens so that
// service=web-1 in two alerts matches exactly.
func tokenize(alert models.Alert) tokenCounts {
	counts := make(tokenCounts)
	for _, word := range splitWords(alert.Name) {
		counts[word]++
	}
	for _, word := range splitWords(alert.Message) {
		counts[word]++
	}
	for k, v := range alert.Labels {
		counts[strings.ToLower(k)+":"+strings.ToLower(v)]++
	}
	return counts
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// documentFrequencies counts, per term, how many documents contain it.
func documentFrequencies(docs []tokenCounts) map[string]int {
	df := make(map[string]int)
	for _, doc := range docs {
		for term := range doc {
			df[term]++
		}
	}
	return df
}

// weigh converts term counts into a normalised tf-idf vector over the
// given corpus statistics.
func weigh(doc tokenCounts, df map[string]int, docCount int) vector {
	if len(doc) == 0 {
		return nil
	}
	vec := make(vector, len(doc))
	norm := 0.0
	for term, count := range doc {
		idf := math.Log(float64(1+docCount)/float64(1+df[term])) + 1
		w := float64(count) * idf
		vec[term] = w
		norm += w * w
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for term := range vec {
		vec[term] /= norm
	}
	return vec
}

// cosine returns the similarity of two normalised vectors.
func cosine(a, b vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	dot := 0.0
	for term, w := range a {
		dot += w * b[term]
	}
	return dot
}

// labelOverlap reports whether the two alerts share at least one
// identical label pair. This is the hard gate that keeps similarly
// worded but unrelated alerts apart.
func labelOverlap(a, b models.Alert) bool {
	for k, v := range a.Labels {
		if bv, ok := b.Labels[k]; ok && bv == v {
			return true
		}
	}
	return false
}

// labelsEqual reports whether both alerts carry exactly the same labels.
func labelsEqual(a, b models.Alert) bool {
	if len(a.Labels) != len(b.Labels) {
		return false
	}
	for k, v := range a.Labels {
		if bv, ok := b.Labels[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
