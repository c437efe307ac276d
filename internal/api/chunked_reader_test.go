package api

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkedReaderSingleChunk(t *testing.T) {
	data := "a;chunk-signature=abc123\r\n" +
		"0123456789\r\n" +
		"0;chunk-signature=def456\r\n" +
		"\r\n"

	result, err := io.ReadAll(NewChunkedReader(strings.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(result))
}

func TestChunkedReaderMultipleChunks(t *testing.T) {
	data := "5;chunk-signature=abc\r\n" +
		"hello\r\n" +
		"5;chunk-signature=def\r\n" +
		"world\r\n" +
		"0;chunk-signature=final\r\n" +
		"\r\n"

	result, err := io.ReadAll(NewChunkedReader(strings.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(result))
}

func TestChunkedReaderEmptyBody(t *testing.T) {
	data := "0;chunk-signature=final\r\n\r\n"

	result, err := io.ReadAll(NewChunkedReader(strings.NewReader(data)))
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestChunkedReaderLargeChunk(t *testing.T) {
	content := strings.Repeat("x", 4096)
	data := "1000;chunk-signature=abc\r\n" + content + "\r\n" +
		"0;chunk-signature=def\r\n\r\n"

	result, err := io.ReadAll(NewChunkedReader(strings.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, content, string(result))
}

func TestChunkedReaderTruncatedChunk(t *testing.T) {
	data := "a;chunk-signature=abc\r\n0123"

	_, err := io.ReadAll(NewChunkedReader(strings.NewReader(data)))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestChunkedReaderBadSize(t *testing.T) {
	data := "zz;chunk-signature=abc\r\ndata\r\n"

	_, err := io.ReadAll(NewChunkedReader(strings.NewReader(data)))
	assert.Error(t, err)
}
