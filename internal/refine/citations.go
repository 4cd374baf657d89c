package refine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const sourcesHeading = "## Sources"

var citationRe = regexp.MustCompile(`\[(\d{1,3})\]`)

// stripSources removes the last Sources section so it can be rebuilt. The
// last occurrence is used so a mention earlier in the body survives.
func stripSources(text string) string {
	lower := strings.ToLower(text)
	if idx := strings.LastIndex(lower, strings.ToLower(sourcesHeading)); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// withSources appends a Sources section listing every source, marking those
// cited inline as [n].
func withSources(body string, sources []string) string {
	if len(sources) == 0 {
		return body
	}
	used := map[int]bool{}
	for _, m := range citationRe.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			used[n] = true
		}
	}

	var b strings.Builder
	if body != "" {
		b.WriteString(strings.TrimRight(body, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(sourcesHeading)
	for i, src := range sources {
		label := "Additional source"
		if used[i+1] {
			label = "Used inline"
		}
		fmt.Fprintf(&b, "\n[%d] %s - %s", i+1, src, label)
	}
	return b.String()
}
