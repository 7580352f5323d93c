package matching

import (
	"fmt"
	"strings"
)

// Location sub-score values.
const (
	LocationExact   = 1.0
	LocationPartial = 0.5
	LocationNone    = 0.0
)

// Weights are the composite-score coefficients. They are normalised by their
// sum, so {5,3,2} and {0.5,0.3,0.2} score identically.
type Weights struct {
	Keyword  float64 `mapstructure:"keyword"`
	Sector   float64 `mapstructure:"sector"`
	Location float64 `mapstructure:"location"`
}

// DefaultWeights is 0.5·keyword + 0.3·sector + 0.2·location.
var DefaultWeights = Weights{Keyword: 0.5, Sector: 0.3, Location: 0.2}

// Validate rejects negative weights and an all-zero set.
func (w Weights) Validate() error {
	if w.Keyword < 0 || w.Sector < 0 || w.Location < 0 {
		return fmt.Errorf("weights must be non-negative, got %+v", w)
	}
	if w.Keyword+w.Sector+w.Location <= 0 {
		return fmt.Errorf("weights must have a positive sum")
	}
	return nil
}

// SubScores are the explainable components of a composite score.
type SubScores struct {
	KeywordOverlap float64 `json:"keyword_overlap"`
	SectorOverlap  float64 `json:"sector_overlap"`
	LocationMatch  float64 `json:"location_match"`
}

// Result is the outcome of scoring one query against one document.
// Composite is meaningful only when HasSignal is true; a query with no
// keywords, sectors or location has no signal and yields an absent score.
type Result struct {
	PostingID       int64     `json:"posting_id"`
	Composite       float64   `json:"composite"`
	HasSignal       bool      `json:"has_signal"`
	Sub             SubScores `json:"sub_scores"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	Active          bool      `json:"active"`
}

// ScorePtr returns the composite score, or nil when there is no signal.
func (r Result) ScorePtr() *float64 {
	if !r.HasSignal {
		return nil
	}
	v := r.Composite
	return &v
}

// Score computes the composite and sub-scores of d against q. It never fails
// and always returns values in [0,1]. Inactive documents are scored normally;
// eligibility is left to the caller.
func Score(q Query, d Document, w Weights) Result {
	if w.Validate() != nil {
		w = DefaultWeights
	}
	tokens := d.tokenSet()
	matched := matchedTerms(q.Keywords, tokens)

	res := Result{
		PostingID:       d.PostingID,
		HasSignal:       !q.Empty(),
		MatchedKeywords: matched,
		Active:          d.Active,
		Sub: SubScores{
			KeywordOverlap: ratio(len(matched), len(q.Keywords)),
			SectorOverlap:  ratio(len(matchedTerms(q.Sectors, tokens)), len(q.Sectors)),
			LocationMatch:  locationMatch(q.Location, d.Location),
		},
	}
	sum := w.Keyword + w.Sector + w.Location
	res.Composite = clamp01((w.Keyword*res.Sub.KeywordOverlap +
		w.Sector*res.Sub.SectorOverlap +
		w.Location*res.Sub.LocationMatch) / sum)
	return res
}

// matchedTerms returns the terms whose every word is present in tokens.
func matchedTerms(terms []string, tokens map[string]struct{}) []string {
	var out []string
	for _, term := range terms {
		if termIn(term, tokens) {
			out = append(out, term)
		}
	}
	return out
}

func termIn(term string, tokens map[string]struct{}) bool {
	ws := strings.Fields(term)
	if len(ws) == 0 {
		return false
	}
	for _, w := range ws {
		if _, ok := tokens[w]; !ok {
			return false
		}
	}
	return true
}

func ratio(n, total int) float64 {
	if total < 1 {
		total = 1
	}
	return clamp01(float64(n) / float64(total))
}

// locationMatch compares two normalised locations. A missing side is not a
// penalty.
func locationMatch(want, have string) float64 {
	if want == "" || have == "" {
		return LocationExact
	}
	if want == have {
		return LocationExact
	}
	if strings.Contains(have, want) || strings.Contains(want, have) {
		return LocationPartial
	}
	return LocationNone
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
