package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeRedirect(t *testing.T) {
	allowed := []string{"https://app.example.com/"}
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "/", true},
		{"/dashboard", "/dashboard", true},
		{"/dashboard?tab=1#x", "/dashboard?tab=1#x", true},
		{"https://app.example.com/home", "https://app.example.com/home", true},
		{"https://APP.example.com/home", "https://APP.example.com/home", true},
		{"//evil.example", "", false},
		{"/\\evil.example", "", false},
		{"https://evil.example", "", false},
		{"https://app.example.com.evil.example/", "", false},
		{"https://user@app.example.com/", "", false},
		{"javascript:alert(1)", "", false},
		{"dashboard", "", false},
		{"http://app.example.com/", "", false},
	}
	for _, tc := range cases {
		got, err := SanitizeRedirect(tc.in, "", allowed)
		if !tc.ok {
			require.ErrorIs(t, err, ErrInvalidRedirect, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}
