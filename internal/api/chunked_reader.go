package api

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// ChunkedReader decodes an aws-chunked request body:
//
//	<hex-size>;chunk-signature=<signature>\r\n
//	<data>\r\n
//	...
//	0;chunk-signature=<final-signature>\r\n
//	\r\n
//
// Chunk signatures are not re-verified here; the outer request signature
// already covers the streaming payload marker.
type ChunkedReader struct {
	reader    *bufio.Reader
	remaining int64
	done      bool
}

// NewChunkedReader wraps r with aws-chunked decoding.
func NewChunkedReader(r io.Reader) *ChunkedReader {
	return &ChunkedReader{reader: bufio.NewReader(r)}
}

// Read implements io.Reader, yielding only the chunk payloads.
func (cr *ChunkedReader) Read(p []byte) (int, error) {
	if cr.done {
		return 0, io.EOF
	}

	if cr.remaining == 0 {
		if err := cr.nextChunk(); err != nil {
			return 0, err
		}
		if cr.remaining == 0 {
			cr.done = true
			// Trailing CRLF after the terminal chunk.
			cr.reader.ReadString('\n')
			return 0, io.EOF
		}
	}

	toRead := int64(len(p))
	if toRead > cr.remaining {
		toRead = cr.remaining
	}
	n, err := cr.reader.Read(p[:toRead])
	cr.remaining -= int64(n)

	if cr.remaining == 0 && n > 0 {
		cr.reader.ReadString('\n')
	}
	if err == io.EOF && !cr.done {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

// nextChunk consumes the next chunk header and records its size.
func (cr *ChunkedReader) nextChunk() error {
	line, err := cr.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	line = strings.TrimRight(line, "\r\n")

	sizeStr := line
	if idx := strings.Index(line, ";"); idx >= 0 {
		sizeStr = line[:idx]
	}
	size, err := strconv.ParseInt(sizeStr, 16, 64)
	if err != nil || size < 0 {
		return errors.New("invalid chunk size")
	}
	cr.remaining = size
	return nil
}
