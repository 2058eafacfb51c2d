package validation

import (
	"strings"
	"testing"
)

func TestValidScopeName_Valid(t *testing.T) {
	valids := []string{
		"a",
		"openid",
		"offline_access",
		"api:read",
		"a_b-c.d:scope2",
		// 64 chars (start/end alnum)
		"a" + strings.Repeat("a", 62) + "b",
	}
	for _, v := range valids {
		if !ValidScopeName(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
}

func TestValidScopeName_Invalid(t *testing.T) {
	invalids := []string{
		"",               // empty
		":lead",          // starts with non-alnum
		"trail:",         // ends with non-alnum
		"bad space",      // space
		"UPPER",          // uppercase
		"semicolon;hack", // semicolon
		"a" + strings.Repeat("a", 63) + "b",
	}
	for _, v := range invalids {
		if ValidScopeName(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestNormalizeUsername(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Ada.Lovelace", "ada.lovelace"},
		{"  bob  ", "bob"},
		{"José Pérez", "jos__p_rez"},
		{"__weird--", "weird"},
		{"a@b", "a_b"},
		{"!!!", ""},
		{strings.Repeat("x", 80), strings.Repeat("x", 64)},
	}
	for _, tc := range cases {
		got := NormalizeUsername(tc.in)
		if got != tc.want {
			t.Fatalf("NormalizeUsername(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if got != "" && !ValidUsername(got) {
			t.Fatalf("normalized %q is not valid", got)
		}
	}
}

func TestValidProviderName(t *testing.T) {
	for _, v := range []string{"google", "corp-sso", "idp_2", "a"} {
		if !ValidProviderName(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
	for _, v := range []string{"", "Google", "-corp", "corp.example", "a:b", "with space", strings.Repeat("a", 65)} {
		if ValidProviderName(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}
