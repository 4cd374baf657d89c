package refine

import (
	"strings"
	"unicode"
)

// closeFences terminates a trailing unterminated code block.
func closeFences(blocks []block) []block {
	if len(blocks) == 0 {
		return blocks
	}
	last := &blocks[len(blocks)-1]
	if !last.code {
		return blocks
	}
	lines := strings.Split(last.text, "\n")
	if len(lines) == 1 || !isFence(lines[len(lines)-1]) {
		last.text += "\n```"
	}
	return blocks
}

var closers = map[rune]rune{'(': ')', '[': ']', '{': '}'}

// balanceBrackets appends the closers missing from prose. Code blocks and
// inline code spans are ignored; stray closers are left alone.
func balanceBrackets(blocks []block) []block {
	var stack []rune
	for _, b := range blocks {
		if b.code {
			continue
		}
		inSpan := false
		for _, r := range b.text {
			switch {
			case r == '`':
				inSpan = !inSpan
			case inSpan:
			case closers[r] != 0:
				stack = append(stack, closers[r])
			case r == ')' || r == ']' || r == '}':
				if len(stack) > 0 && stack[len(stack)-1] == r {
					stack = stack[:len(stack)-1]
				}
			}
		}
	}
	if len(stack) == 0 {
		return blocks
	}

	var missing strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		missing.WriteRune(stack[i])
	}
	idx := lastProse(blocks)
	if idx < 0 {
		return blocks
	}
	blocks[idx].text = insertBeforeTerminal(blocks[idx].text, missing.String())
	return blocks
}

// insertBeforeTerminal puts s before a trailing sentence terminator.
func insertBeforeTerminal(text, s string) string {
	if n := len(text); n > 0 && strings.ContainsRune(".!?", rune(text[n-1])) {
		return text[:n-1] + s + text[n-1:]
	}
	return text + s
}

func lastProse(blocks []block) int {
	for i := len(blocks) - 1; i >= 0; i-- {
		if !blocks[i].code {
			return i
		}
	}
	return -1
}

// terminate ends a final prose paragraph that stops mid-sentence.
func terminate(blocks []block) []block {
	if len(blocks) == 0 || blocks[len(blocks)-1].code {
		return blocks
	}
	last := &blocks[len(blocks)-1]
	lines := strings.Split(last.text, "\n")
	tail := strings.TrimSpace(lines[len(lines)-1])
	if tail == "" || isStructural(tail) {
		return blocks
	}
	r := []rune(last.text)
	end := r[len(r)-1]
	// A sentence may close a parenthetical before it ends.
	for i := len(r) - 1; i > 0 && strings.ContainsRune(")]}\"'", r[i]); i-- {
		end = r[i-1]
	}
	switch {
	case end != r[len(r)-1] && (unicode.IsLetter(end) || unicode.IsDigit(end)):
		last.text += "."
	case end == ',' || end == ';' || end == '-' || end == ':':
		last.text = string(r[:len(r)-1]) + "."
	case unicode.IsLetter(end) || unicode.IsDigit(end):
		last.text += "."
	}
	return blocks
}

// isStructural reports markdown lines that take no terminal punctuation.
func isStructural(line string) bool {
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "|") ||
		strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "> ") {
		return true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}
