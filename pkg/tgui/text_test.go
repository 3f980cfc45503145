package tgui

import "testing"

func TestCutRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
		cut  bool
	}{
		{in: "hello", n: 10, want: "hello"},
		{in: "hello", n: 5, want: "hello"},
		{in: "hello", n: 3, want: "hel", cut: true},
		{in: "即刻动态", n: 2, want: "即刻", cut: true},
		{in: "", n: 3, want: ""},
		{in: "abc", n: 0, want: "", cut: true},
	}
	for _, tt := range tests {
		got, cut := CutRunes(tt.in, tt.n)
		if got != tt.want || cut != tt.cut {
			t.Fatalf("CutRunes(%q, %d) = (%q, %v), want (%q, %v)", tt.in, tt.n, got, cut, tt.want, tt.cut)
		}
	}
}

func TestEscAndAnchor(t *testing.T) {
	t.Parallel()
	got := Anchor("https://example.com/?a=1", Esc("a < b & c")).String()
	want := `<a href="https://example.com/?a=1">a &lt; b &amp; c</a>`
	if got != want {
		t.Fatalf("Anchor = %q, want %q", got, want)
	}
	if b := Bold(Esc("<x>")).String(); b != "<b>&lt;x&gt;</b>" {
		t.Fatalf("Bold = %q", b)
	}
}
