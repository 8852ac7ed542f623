package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "um, let me check", "um, let me check"},
		{"tags", "<b>hello</b> there", "hello there"},
		{"encoded tags", "&lt;script&gt;alert(1)&lt;/script&gt;done", "alert(1)done"},
		{"entities", "Smith &amp; Jones", "Smith & Jones"},
		{"whitespace", "  one\n\ttwo   three ", "one two three"},
		{"control", "a\x00b\x07c", "abc"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Text(tc.in); got != tc.want {
				t.Fatalf("Text(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
