package matching

import (
	"sort"
	"strings"
)

// barrierTerms maps a barrier tag to the terms that signal it in an
// advisor's free-text notes.
var barrierTerms = map[string][]string{
	"transport":       {"no car", "no licence", "no license", "transport", "bus", "commute", "driving"},
	"childcare":       {"childcare", "child care", "school run", "single parent", "nursery"},
	"health":          {"disability", "disabled", "health", "mental health", "injury", "medical"},
	"language":        {"english", "esol", "language", "translator", "interpreter"},
	"criminal_record": {"conviction", "criminal", "probation", "offender"},
	"housing":         {"homeless", "housing", "hostel", "no fixed address"},
	"digital":         {"no computer", "no internet", "digital", "computer skills"},
	"caring":          {"carer", "caring responsibilities"},
}

// containsAny returns true if any term appears (case-insensitive) in the
// lower-cased text.
func containsAny(lowered string, terms []string) bool {
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

// BarrierTags extracts best-effort barrier tags from free text. Unknown
// wording yields an empty slice, never an error.
func BarrierTags(notes string) []string {
	lowered := strings.Join(strings.Fields(strings.ToLower(notes)), " ")
	if lowered == "" {
		return nil
	}
	var tags []string
	for tag, terms := range barrierTerms {
		if containsAny(lowered, terms) {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}
