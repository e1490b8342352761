package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBytesASCIIAndUTF16(t *testing.T) {
	e := MakeExtractor(3, 4)

	data := []byte{0x00, 0x00}
	data = append(data, []byte("secret")...)
	data = append(data, 0x00, 0x00)
	// "pass" as UTF-16LE.
	for _, c := range "pass" {
		data = append(data, byte(c), 0x00)
	}
	data = append(data, 0xff, 0xfe)

	tokens := e.FromBytes(data)
	var got []string
	for _, tok := range tokens {
		got = append(got, string(tok))
	}
	assert.Contains(t, got, "secret")
	assert.Contains(t, got, "p\x00a\x00s\x00s\x00")
}

func TestFromBytesSkipsShortRuns(t *testing.T) {
	e := MakeExtractor(3, 4)
	tokens := e.FromBytes([]byte("ab\x00cd"))
	assert.Empty(t, tokens)
}

func TestFromBytesDeduplicates(t *testing.T) {
	e := MakeExtractor(3, 4)
	data := []byte("foo\x00foo\x00")
	tokens := e.FromBytes(data)
	assert.Len(t, tokens, 1)
	assert.Equal(t, "foo", string(tokens[0]))
}
