package sanitize

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var collectionPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"email", "alice@example.com", "alice_example_com"},
		{"uppercase", "Alice", "alice"},
		{"spaces and punctuation", "My User!", "my_user"},
		{"collapses runs", "a--__--b", "a_b"},
		{"trims edges", "__x__", "x"},
		{"empty", "", DefaultIdentifier},
		{"only invalid", "!!!", DefaultIdentifier},
		{"unicode", "café", "caf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.input))
		})
	}
}

func TestIdentifier_LengthLimit(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := Identifier(long)
	assert.Len(t, got, MaxIdentifierLength)
	assert.Regexp(t, collectionPattern, got)

	other := Identifier(strings.Repeat("a", 99) + "b")
	assert.NotEqual(t, got, other, "hash suffix keeps long ids distinct")

	exact := strings.Repeat("x", MaxIdentifierLength)
	assert.Equal(t, exact, Identifier(exact))
}
