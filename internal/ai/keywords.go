package ai

import "strings"

// therapeuticKeywords maps a tag to the phrases that imply it. Order matters
// for output stability, so the table is a slice rather than a map.
var therapeuticKeywords = []struct {
	tag      string
	keywords []string
}{
	// Therapeutic approaches
	{"CBT", []string{"cognitive behavioral", "cbt", "cognitive restructuring", "thought record"}},
	{"ACT", []string{"acceptance commitment", "act ", "mindfulness", "psychological flexibility"}},
	{"DBT", []string{"dialectical behavior", "dbt", "distress tolerance", "emotion regulation"}},
	{"Narrative Therapy", []string{"narrative", "externalize", "re-authoring", "dominant story"}},

	// Clinical issues
	{"Anxiety", []string{"anxiety", "anxious", "worry", "panic", "fear"}},
	{"Depression", []string{"depression", "depressed", "mood", "sadness", "hopeless"}},
	{"Trauma", []string{"trauma", "ptsd", "flashback", "triggered"}},
	{"Relationship Issues", []string{"relationship", "partner", "couple", "conflict"}},
	{"Family Dynamics", []string{"family", "parent", "sibling", "family system"}},

	// Treatment elements
	{"Coping Skills", []string{"coping", "skills", "strategies", "techniques"}},
	{"Homework", []string{"homework", "assignment", "practice", "between sessions"}},
	{"Follow-up", []string{"follow", "next session", "continue", "progress"}},
	{"Progress", []string{"progress", "improvement", "better", "growth"}},
}

// KeywordTags extracts therapeutic tags by pattern matching. It is the backup
// path when the LLM is unavailable.
func KeywordTags(content string) []string {
	contentLower := strings.ToLower(content)

	var tags []string
	for _, entry := range therapeuticKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(contentLower, keyword) {
				tags = append(tags, entry.tag)
				break
			}
		}
	}

	if strings.Contains(contentLower, "adolescent") || strings.Contains(contentLower, "teen") {
		tags = append(tags, "Adolescent")
	} else {
		tags = append(tags, "Adult")
	}

	if len(tags) > 10 {
		tags = tags[:10]
	}
	return tags
}

// ExtractiveSummary builds a short summary by picking the first substantive
// clinical sentence, falling back to a prefix of the note.
func ExtractiveSummary(content string) string {
	for _, sentence := range strings.Split(content, ".") {
		trimmed := strings.TrimSpace(sentence)
		if len(trimmed) <= 50 {
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, marker := range []string{"client", "session", "discussed", "reported", "presented"} {
			if strings.Contains(lower, marker) {
				if len(trimmed) > 200 {
					trimmed = trimmed[:200]
				}
				return trimmed + "..."
			}
		}
	}

	trimmed := strings.TrimSpace(content)
	if len(trimmed) > 150 {
		trimmed = trimmed[:150] + "..."
	}
	return trimmed
}
