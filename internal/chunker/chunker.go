// Package chunker splits long event text into pieces small enough to embed.
package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultTargetSize = 1000
	DefaultMaxSize    = 2000
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// ChunkResult is one piece of the original text.
type ChunkResult struct {
	Text string
	Seq  int
}

// Chunk splits text into chunks. Short text (<= MaxSize) returns a single chunk.
func Chunk(text string, opts Options) []ChunkResult {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}
	if opts.MaxSize < opts.TargetSize {
		opts.MaxSize = opts.TargetSize
	}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	// Short content, no chunking needed
	if len(text) <= opts.MaxSize {
		return []ChunkResult{{Text: text}}
	}

	var pieces []string
	for _, para := range splitParagraphs(text) {
		if len(para) <= opts.TargetSize {
			pieces = append(pieces, para)
			continue
		}
		for _, s := range splitSentences(para) {
			if len(s) > opts.MaxSize {
				pieces = append(pieces, hardSplit(s, opts.TargetSize)...)
			} else {
				pieces = append(pieces, s)
			}
		}
	}
	return merge(pieces, opts)
}

// splitParagraphs splits on blank lines.
func splitParagraphs(text string) []string {
	var out []string
	var current []string
	flush := func() {
		if p := strings.TrimSpace(strings.Join(current, "\n")); p != "" {
			out = append(out, p)
		}
		current = nil
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return out
}

// splitSentences splits after '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// hardSplit breaks a run-on sentence on word boundaries.
func hardSplit(text string, target int) []string {
	var out []string
	var b strings.Builder
	for _, w := range strings.Fields(text) {
		if b.Len() > 0 && b.Len()+1+len(w) > target {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// merge packs consecutive pieces up to TargetSize.
func merge(pieces []string, opts Options) []ChunkResult {
	var results []ChunkResult
	var accum string
	flush := func() {
		if accum != "" {
			results = append(results, ChunkResult{Text: accum, Seq: len(results)})
		}
		accum = ""
	}
	for _, p := range pieces {
		if accum == "" {
			accum = p
			continue
		}
		if len(accum)+1+len(p) <= opts.TargetSize {
			accum += " " + p
			continue
		}
		flush()
		accum = p
	}
	flush()
	return results
}
