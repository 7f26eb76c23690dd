package transform

import "strings"

const quotedTextCollapsedMarker = "[Quoted text collapsed]"

// collapseQuotes implements §4.6 step 3: a consecutive run of lines at
// quote depth >= 3 collapses into a single marker line; depth 1 and 2 are
// left untouched.
func collapseQuotes(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	i := 0
	for i < len(lines) {
		if quoteDepth(lines[i]) >= quoteCollapseDepth {
			for i < len(lines) && quoteDepth(lines[i]) >= quoteCollapseDepth {
				i++
			}
			out = append(out, quotedTextCollapsedMarker)
			continue
		}
		out = append(out, lines[i])
		i++
	}

	return strings.Join(out, "\n")
}

// quoteDepth counts leading '>' markers, tolerating a single space between
// consecutive markers (">>> x" and "> > > x" both report depth 3).
func quoteDepth(line string) int {
	trimmed := strings.TrimLeft(line, " \t")
	depth := 0
	i := 0
	for i < len(trimmed) && trimmed[i] == '>' {
		depth++
		i++
		if i < len(trimmed) && trimmed[i] == ' ' {
			i++
		}
	}
	return depth
}
