package shellq

import "testing"

func TestQuotePassesPlainWords(t *testing.T) {
	for _, arg := range []string{"ls", "/usr/bin/env", "a-b_c.d", "v1.2.3"} {
		if got := Quote(arg); got != arg {
			t.Fatalf("Quote(%q)=%q, want unchanged", arg, got)
		}
	}
}

func TestQuoteWrapsUnsafe(t *testing.T) {
	cases := map[string]string{
		"":            "''",
		"a b":         "'a b'",
		"$(rm -rf /)": "'$(rm -rf /)'",
		"a;b":         "'a;b'",
		"it's":        `'it'\''s'`,
		"*.go":        "'*.go'",
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Fatalf("Quote(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestJoin(t *testing.T) {
	got := Join([]string{"echo", "hello world", "done"})
	if got != "echo 'hello world' done" {
		t.Fatalf("join=%q", got)
	}
}
