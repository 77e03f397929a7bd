package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTestContent(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"trailing spaces", "1 2  \n3\t\n", "1 2\n3\n"},
		{"leading blank lines", "\n\n1 2\n", "1 2\n"},
		{"trailing blank lines", "1 2\n\n\n", "1 2\n"},
		{"crlf", "1 2\r\n3\r\n", "1 2\n3\n"},
		{"no trailing newline", "1 2", "1 2\n"},
		{"empty", "", "\n"},
		{"only whitespace", "  \n\t\n", "\n"},
		{"interior blanks kept", "a\n\nb\n", "a\n\nb\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeTestContent(tc.in))
		})
	}
}

func TestCompareOutput(t *testing.T) {
	assert.True(t, CompareOutput("3\n", "3"))
	assert.True(t, CompareOutput("3  \n\n", "3\n"))
	assert.False(t, CompareOutput("3\n", "4\n"))
	assert.False(t, CompareOutput("a b\n", "a  b\n"), "interior spacing is significant")
}
