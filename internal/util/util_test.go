package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseNumericValue(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		expectedVal float64
		expectedOk  bool
	}{
		{"direct numeric parse", "42", 42, true},
		{"direct float parse", "3.14", 3.14, true},
		{"equals pattern", "The answer equals 42", 42, true},
		{"is pattern", "The result is 104", 104, true},
		{"equals sign", "x = 7", 7, true},
		{"last numeric token", "I calculated 15 plus 27 and got 42", 42, true},
		{"with punctuation", "The answer is: 42.", 42, true},
		{"thousands separator", "Total is 1,234", 1234, true},
		{"no numbers", "There are no numbers here", 0, false},
		{"empty string", "", 0, false},
		{"negative number", "The temperature is -5 degrees", -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := ParseNumericValue(tt.response)
			if ok != tt.expectedOk {
				t.Errorf("ParseNumericValue(%q) ok = %v, want %v", tt.response, ok, tt.expectedOk)
			}
			if ok && val != tt.expectedVal {
				t.Errorf("ParseNumericValue(%q) val = %v, want %v", tt.response, val, tt.expectedVal)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		maxLen        int
		preserveWords bool
		want          string
	}{
		{"short string untouched", "hello", 10, false, "hello"},
		{"hard cut", "hello world", 8, false, "hello..."},
		{"word boundary", "This is a very long string", 12, true, "This is a..."},
		{"tiny limit", "abcdef", 2, false, ".."},
		{"zero limit", "abc", 0, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen, tt.preserveWords); got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateString_UTF8(t *testing.T) {
	inputs := []string{
		"查询中文数据库中的用户信息",
		"Hello 👋 World 🌍 Testing 🎉 Emoji",
		"データベース システム から ユーザー 情報",
	}
	for _, in := range inputs {
		got := TruncateString(in, 10, true)
		if !utf8.ValidString(got) {
			t.Errorf("TruncateString produced invalid UTF-8 for %q", in)
		}
		if n := utf8.RuneCountInString(got); n > 10 {
			t.Errorf("TruncateString(%q) has %d runes, want <= 10", in, n)
		}
	}
}

func TestJaccard(t *testing.T) {
	if got := Jaccard("Alexander Fleming discovered penicillin", "Penicillin was discovered by Alexander Fleming"); got != 1 {
		t.Errorf("expected stopword-insensitive identity, got %f", got)
	}
	if got := Jaccard("cats purr", "dogs bark"); got != 0 {
		t.Errorf("expected 0 for disjoint texts, got %f", got)
	}
	if got := Jaccard("", ""); got != 1 {
		t.Errorf("expected empty texts to be identical, got %f", got)
	}
}

func TestOverlap(t *testing.T) {
	got := Overlap("Fleming discovered penicillin in 1928", "In 1928 Alexander Fleming discovered penicillin at St Mary's")
	if got != 1 {
		t.Errorf("expected full overlap, got %f", got)
	}
}

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Let me think. 6 * 7 = 42. Final answer: 42", "42"},
		{"The answer is 42.0", "42"},
		{"Paris is the capital of France. It is large.", "paris is the capital of france"},
		{"Answer: Paris", "paris"},
	}
	for _, tt := range tests {
		if got := NormalizeAnswer(tt.in); got != tt.want {
			t.Errorf("NormalizeAnswer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSentencesAndParagraphs(t *testing.T) {
	s := Sentences("First one. Second one!\nThird line")
	if len(s) != 3 || s[1] != "Second one!" {
		t.Errorf("unexpected sentences %q", s)
	}
	p := Paragraphs("a\n\n  \nb\nc\n\n")
	if len(p) != 2 || !strings.Contains(p[1], "c") {
		t.Errorf("unexpected paragraphs %q", p)
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 || EstimateTokens("abcd") != 1 || EstimateTokens("abcde") != 2 {
		t.Error("unexpected token estimate")
	}
}
