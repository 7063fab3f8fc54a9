package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_CamelCase(t *testing.T) {
	assert.Equal(t, []string{"get", "user", "by", "id"}, Tokenize("getUserByID"))
}

func TestTokenize_SnakeCase(t *testing.T) {
	assert.Equal(t, []string{"parse", "http", "request"}, Tokenize("parse_http_request"))
}

func TestTokenize_SplitsOnPunctuation(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar", "baz"}, Tokenize("foo.bar(baz)"))
}

func TestTokenize_DiscardsEmpty(t *testing.T) {
	got := Tokenize("   ...  ")
	assert.Empty(t, got)
}

func TestTokenize_KeepsSingleCharTokens(t *testing.T) {
	got := Tokenize("a = b + c")
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTokenize_Lowercases(t *testing.T) {
	assert.Equal(t, []string{"http", "handler"}, Tokenize("HTTPHandler"))
}
