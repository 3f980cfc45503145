package transport

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "newline boundary", in: "aaaa\nbbbb\ncc", limit: 10, want: []string{"aaaa\nbbbb", "cc"}},
		{name: "hard cut", in: strings.Repeat("x", 12), limit: 5, want: []string{"xxxxx", "xxxxx", "xx"}},
		{name: "runes", in: strings.Repeat("é", 7), limit: 4, want: []string{"éééé", "ééé"}},
		{
			name:      "html tag kept whole",
			in:        strings.Repeat("a", 15) + `<a href="x">y</a>`,
			limit:     20,
			parseMode: "HTML",
			want:      []string{strings.Repeat("a", 15), `<a href="x">y</a>`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SplitText(tt.in, tt.limit, tt.parseMode)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("SplitText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitTextDefaultLimit(t *testing.T) {
	t.Parallel()
	line := `<a href="https://example.com/p">post</a>` + "\n"
	chunks := SplitText(strings.Repeat(line, 200), 0, "HTML")
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want a split", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > TextLimit {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if !strings.HasSuffix(c, "</a>") {
			t.Fatalf("chunk %d does not end on a line boundary: %q", i, c[len(c)-10:])
		}
	}
}
