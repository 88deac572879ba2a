package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKey(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"token form", "TOKEN abc123", "abc123"},
		{"bearer form", "Bearer abc123", "abc123"},
		{"lowercase bearer", "bearer abc123", "abc123"},
		{"raw key", "abc123", "abc123"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"unrecognized two-word scheme treated as raw", "Basic abc123", "Basic abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractKey(tc.header))
		})
	}
}
