// Package sparse computes the lexical features used alongside dense
// embeddings: a term weight map and a set of distinguished entity terms.
package sparse

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/registry"
)

// Features is the sparse representation of a piece of text.
type Features struct {
	Terms    map[string]float64
	Entities []string
}

var (
	analyzerOnce sync.Once
	analyzer     analysis.Analyzer
	analyzerErr  error
)

func standardAnalyzer() (analysis.Analyzer, error) {
	analyzerOnce.Do(func() {
		analyzer, analyzerErr = registry.NewCache().AnalyzerNamed(standard.Name)
		if analyzerErr != nil {
			analyzerErr = fmt.Errorf("load %s analyzer: %w", standard.Name, analyzerErr)
		}
	})
	return analyzer, analyzerErr
}

// Analyze tokenizes text with the standard analyzer (unicode segmentation,
// lower-casing, English stop words). Term weight is 1+ln(tf). A token is an
// entity when it contains a digit or is capitalised somewhere other than
// the start of a sentence.
func Analyze(text string) (Features, error) {
	a, err := standardAnalyzer()
	if err != nil {
		return Features{}, err
	}
	// The token filters rewrite the input buffer in place, so entity
	// detection reads from its own copy of the surface text.
	tokens := a.Analyze([]byte(text))
	raw := []byte(text)

	tf := make(map[string]int, len(tokens))
	entities := make(map[string]struct{})
	for _, tok := range tokens {
		term := string(tok.Term)
		if term == "" {
			continue
		}
		tf[term]++
		if tok.Start >= 0 && tok.End <= len(raw) && isEntity(raw, tok.Start, tok.End) {
			entities[term] = struct{}{}
		}
	}

	f := Features{Terms: make(map[string]float64, len(tf))}
	for term, n := range tf {
		f.Terms[term] = 1 + math.Log(float64(n))
	}
	for term := range entities {
		f.Entities = append(f.Entities, term)
	}
	sort.Strings(f.Entities)
	return f, nil
}

func isEntity(raw []byte, start, end int) bool {
	surface := raw[start:end]
	for _, r := range string(surface) {
		if unicode.IsDigit(r) {
			return true
		}
	}
	first, _ := utf8.DecodeRune(surface)
	if !unicode.IsUpper(first) {
		return false
	}
	return !sentenceStart(raw[:start])
}

// sentenceStart reports whether the text before a token ends a sentence
// (or is empty).
func sentenceStart(prefix []byte) bool {
	for len(prefix) > 0 {
		r, size := utf8.DecodeLastRune(prefix)
		switch {
		case unicode.IsSpace(r), r == '"', r == '\'', r == '(':
			prefix = prefix[:len(prefix)-size]
		case r == '.', r == '!', r == '?', r == '\n':
			return true
		default:
			return false
		}
	}
	return true
}

// Overlap is the weighted Jaccard similarity of two term maps, in [0,1].
func Overlap(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var minSum, maxSum float64
	for term, wa := range a {
		wb := b[term]
		minSum += math.Min(wa, wb)
		maxSum += math.Max(wa, wb)
	}
	for term, wb := range b {
		if _, ok := a[term]; !ok {
			maxSum += wb
		}
	}
	if maxSum == 0 {
		return 0
	}
	return minSum / maxSum
}

// ExactEntityMatch reports whether any query term is one of the entities.
func ExactEntityMatch(query map[string]float64, entities []string) bool {
	for _, e := range entities {
		if _, ok := query[e]; ok {
			return true
		}
	}
	return false
}
