package pipeline

import "regexp"

var citationRe = regexp.MustCompile(`\[([^\[\]\s]+)\]`)

// ExtractCitations returns the context source ids the answer actually
// cites, in first-use order, deduplicated. Bracketed tokens that do not
// appear in the context are ignored.
func ExtractCitations(answer, contextText string) []string {
	if answer == "" || contextText == "" {
		return nil
	}

	known := make(map[string]struct{})
	for _, m := range citationRe.FindAllStringSubmatch(contextText, -1) {
		known[m[1]] = struct{}{}
	}
	if len(known) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		id := m[1]
		if _, ok := known[id]; !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
