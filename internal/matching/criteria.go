package matching

import (
	"github.com/tidwall/gjson"

	"jobmate/matching-service/internal/model"
)

// Keyword sources recorded on a Query.
const (
	KeywordSourceCriteria  = "criteria"
	KeywordSourceDocuments = "documents"
)

// entityKeys are the parsed_entities fields read as keyword signal.
var entityKeys = []string{"skills", "keywords", "job_titles"}

// Query is the normalised, comparable form of a claimant's search criteria.
type Query struct {
	ClaimantID    int64    `json:"claimantId"`
	CriteriaID    int64    `json:"criteriaId"`
	Keywords      []string `json:"keywords"`
	Sectors       []string `json:"sectors"`
	Location      string   `json:"location"`
	Barriers      []string `json:"barriers"`
	KeywordSource string   `json:"keywordSource,omitempty"`
}

// Empty reports whether the query carries no comparable signal at all.
func (q Query) Empty() bool {
	return len(q.Keywords) == 0 && len(q.Sectors) == 0 && q.Location == ""
}

// NormalizeCriteria turns one SearchCriteria record into a Query. It never
// fails: empty or unparseable fields become empty sets. docs are optional;
// when the criteria hold no keywords, the extracted entities of the
// claimant's CV documents stand in for them.
func NormalizeCriteria(c model.SearchCriteria, docs []model.Document) Query {
	q := Query{
		ClaimantID: c.ClaimantID,
		CriteriaID: c.ID,
		Keywords:   NormalizeTerms(c.Keywords),
		Sectors:    NormalizeTerms(c.Sectors),
		Location:   NormalizeLocation(c.TargetLocation),
		Barriers:   BarrierTags(c.BarrierNotes),
	}
	if len(q.Keywords) > 0 {
		q.KeywordSource = KeywordSourceCriteria
		return q
	}
	if kws := documentKeywords(docs); len(kws) > 0 {
		q.Keywords = kws
		q.KeywordSource = KeywordSourceDocuments
	}
	return q
}

// documentKeywords collects keyword phrases from the parsed_entities JSON of
// CV documents. Invalid JSON is ignored.
func documentKeywords(docs []model.Document) []string {
	var phrases []string
	for _, d := range docs {
		if !d.IsCV() || len(d.ParsedEntities) == 0 || !gjson.ValidBytes(d.ParsedEntities) {
			continue
		}
		for _, key := range entityKeys {
			res := gjson.GetBytes(d.ParsedEntities, key)
			switch {
			case res.IsArray():
				res.ForEach(func(_, v gjson.Result) bool {
					if v.Type == gjson.String {
						phrases = append(phrases, v.String())
					}
					return true
				})
			case res.Type == gjson.String:
				phrases = append(phrases, model.SplitList(res.String())...)
			}
		}
	}
	return NormalizeTerms(phrases)
}
