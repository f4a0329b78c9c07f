package selector

import "strings"

// Split breaks a selector expression into its ordered candidate selectors.
//
// Candidates are separated by top-level commas, the same delimiter CSS uses for
// selector groups. Commas nested inside parentheses, attribute brackets or quotes
// belong to the candidate, so `:is(h1, h2)` and `[title="a,b"]` stay whole.
// Blank candidates are dropped.
func Split(expr string) []string {
	var (
		candidates []string
		depth      int
		quote      rune
		start      int
	)

	flush := func(end int) {
		if c := strings.TrimSpace(expr[start:end]); c != "" {
			candidates = append(candidates, c)
		}
	}

	for i, r := range expr {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			flush(i)
			start = i + 1
		}
	}
	flush(len(expr))

	return candidates
}
