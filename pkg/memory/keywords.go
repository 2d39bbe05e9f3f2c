package memory

import "strings"

var keywordStopwords = map[string]struct{}{
	"the": {}, "and": {}, "that": {}, "this": {}, "with": {}, "from": {},
	"have": {}, "has": {}, "was": {}, "were": {}, "will": {}, "would": {},
	"user": {}, "they": {}, "their": {}, "about": {}, "for": {}, "not": {},
}

// extractKeywords derives a small, deterministic keyword set from fact
// content so keyword search works on compressed records the same way it
// does on manually saved ones.
func extractKeywords(content string) []string {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := map[string]struct{}{}
	out := make([]string, 0, 8)
	for _, f := range fields {
		if len(f) < 4 {
			continue
		}
		if _, stop := keywordStopwords[f]; stop {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		if len(out) >= 8 {
			break
		}
	}
	return out
}
