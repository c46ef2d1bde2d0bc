// Package tokenizer provides the text analysis pipeline shared by indexing
// and query parsing.
//
// The default pipeline runs four stages in order:
//
//  1. segmentation: dictionary-based word boundaries for CJK text, standard
//     word boundaries otherwise; tokens carry byte offsets and ordinal
//     positions
//  2. alphanumeric filter: drops tokens with no alphanumeric character
//  3. lowercasing
//  4. English suffix-stripping (Snowball); segmented CJK tokens have no
//     applicable rule and pass through unchanged
//
// Index-time and query-time analysis must use the identical pipeline or
// recall degrades unpredictably, so callers share one Pipeline instance.
package tokenizer

import (
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
	"github.com/kljensen/snowball/english"
)

// Token is one unit of analyzed text.
type Token struct {
	// Term is the normalized term text.
	Term string
	// Start and End delimit the source bytes as a half-open range.
	Start int
	End   int
	// Position is the ordinal position assigned at segmentation time.
	// Positions keep their gaps when later stages drop tokens.
	Position int
}

// Analyzer turns raw text into an ordered token stream.
type Analyzer interface {
	Analyze(text string) []Token
}

// Filter transforms a single token. Returning ok=false drops the token from
// the stream.
type Filter interface {
	Apply(tok Token) (Token, bool)
}

// Pipeline is a segmenter followed by an ordered filter chain. Stages can be
// added or reordered without touching callers.
type Pipeline struct {
	seg     *gse.Segmenter
	filters []Filter
}

var (
	defaultSegOnce sync.Once
	defaultSeg     *gse.Segmenter
	defaultSegErr  error
)

func sharedSegmenter() (*gse.Segmenter, error) {
	defaultSegOnce.Do(func() {
		var seg gse.Segmenter
		seg.AlphaNum = true
		if err := seg.LoadDictEmbed(); err != nil {
			defaultSegErr = err
			return
		}
		defaultSeg = &seg
	})
	return defaultSeg, defaultSegErr
}

// Default returns the standard pipeline: segmenter, alphanumeric filter,
// lowercaser, English stemmer.
//
// The segmentation dictionary is loaded once per process and shared; the
// returned error is the dictionary load error, if any.
func Default() (*Pipeline, error) {
	seg, err := sharedSegmenter()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		seg:     seg,
		filters: []Filter{AlnumFilter{}, LowercaseFilter{}, StemFilter{}},
	}, nil
}

// NewPipeline builds a pipeline with a custom filter chain over the shared
// segmenter.
func NewPipeline(filters ...Filter) (*Pipeline, error) {
	seg, err := sharedSegmenter()
	if err != nil {
		return nil, err
	}
	return &Pipeline{seg: seg, filters: filters}, nil
}

// Analyze implements Analyzer.
func (p *Pipeline) Analyze(text string) []Token {
	if text == "" {
		return nil
	}
	segs := p.seg.Segment([]byte(text))
	tokens := make([]Token, 0, len(segs))
	pos := 0
	for _, s := range segs {
		tok := Token{
			Term:     s.Token().Text(),
			Start:    s.Start(),
			End:      s.End(),
			Position: pos,
		}
		pos++
		keep := true
		for _, f := range p.filters {
			tok, keep = f.Apply(tok)
			if !keep {
				break
			}
		}
		if keep {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// AlnumFilter drops tokens containing no alphanumeric character, so the
// downstream stages never see pure punctuation or whitespace artifacts.
type AlnumFilter struct{}

// Apply implements Filter.
func (AlnumFilter) Apply(tok Token) (Token, bool) {
	for _, r := range tok.Term {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return tok, true
		}
	}
	return tok, false
}

// LowercaseFilter lowercases the term text.
type LowercaseFilter struct{}

// Apply implements Filter.
func (LowercaseFilter) Apply(tok Token) (Token, bool) {
	tok.Term = strings.ToLower(tok.Term)
	return tok, true
}

// StemFilter applies English suffix stripping. Terms without Latin letters
// pass through unchanged.
type StemFilter struct{}

// Apply implements Filter.
func (StemFilter) Apply(tok Token) (Token, bool) {
	if !hasLatin(tok.Term) {
		return tok, true
	}
	tok.Term = english.Stem(tok.Term, false)
	return tok, true
}

func hasLatin(s string) bool {
	for _, r := range s {
		if r < 128 && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// Raw is a position-agnostic analyzer for exact-match fields such as URIs:
// the whole field value is the single token.
type Raw struct{}

// Analyze implements Analyzer.
func (Raw) Analyze(text string) []Token {
	if text == "" {
		return nil
	}
	return []Token{{Term: text, Start: 0, End: len(text), Position: 0}}
}
