package refine

import (
	"regexp"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
)

// block is a paragraph of prose or a whole fenced code block.
type block struct {
	text string
	code bool
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// splitBlocks keeps fenced code intact and splits prose on blank lines.
// An unterminated fence runs to the end of the text.
func splitBlocks(text string) []block {
	var (
		out     []block
		cur     []string
		inFence bool
	)
	flush := func(code bool) {
		if len(cur) == 0 {
			return
		}
		t := strings.Join(cur, "\n")
		if code || strings.TrimSpace(t) != "" {
			out = append(out, block{text: strings.TrimRight(t, " \t\n"), code: code})
		}
		cur = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		switch {
		case inFence:
			cur = append(cur, line)
			if isFence(line) {
				flush(true)
				inFence = false
			}
		case isFence(line):
			flush(false)
			cur = append(cur, line)
			inFence = true
		case strings.TrimSpace(line) == "":
			flush(false)
		default:
			cur = append(cur, strings.TrimRight(line, " \t"))
		}
	}
	flush(inFence)
	return out
}

func joinBlocks(blocks []block) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.text
	}
	return strings.Join(parts, "\n\n")
}

var tagRe = regexp.MustCompile(`\[(verified|unverified|disputed|corrected: [^\]]*)\]`)

// normalizeBlock is the comparison key for repetition checks. Case,
// punctuation and claim tags are ignored.
func normalizeBlock(s string) string {
	return strings.Join(util.Tokens(tagRe.ReplaceAllString(s, "")), " ")
}
