package client

import (
	"bytes"
	"io"
	"strings"

	"github.com/valyala/bytebufferpool"
)

const defaultChunkSize = 1024

// ResponseReader reassembles newline terminated responses from a stream.
type ResponseReader struct {
	r     io.Reader
	buf   *bytebufferpool.ByteBuffer
	chunk []byte
}

func NewResponseReader(r io.Reader) *ResponseReader {
	return &ResponseReader{
		r:     r,
		buf:   bytebufferpool.Get(),
		chunk: make([]byte, defaultChunkSize),
	}
}

// ReadResponse reads until the data ends with a line feed and returns it
// without its line terminators. A read which only returns a line terminator
// while nothing else has been read yet does not end the response: the payload
// is still to come.
//
// A stream closed in the middle of a response yields io.ErrUnexpectedEOF.
func (rr *ResponseReader) ReadResponse() (string, error) {
	rr.buf.Reset()

	for {
		n, err := rr.r.Read(rr.chunk)
		if n > 0 {
			data := rr.chunk[:n]
			_, _ = rr.buf.Write(data)

			terminatorOnly := rr.buf.Len() == n && isTerminator(data)
			if !terminatorOnly && bytes.HasSuffix(rr.buf.B, []byte{'\n'}) {
				return strings.Trim(rr.buf.String(), "\r\n"), nil
			}
		}

		if err != nil {
			if err == io.EOF && rr.buf.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
	}
}

// Close returns the reassembly buffer to its pool.
func (rr *ResponseReader) Close() {
	if rr.buf != nil {
		bytebufferpool.Put(rr.buf)
		rr.buf = nil
	}
}

func isTerminator(b []byte) bool {
	s := string(b)
	return s == "\n" || s == "\r\n"
}
