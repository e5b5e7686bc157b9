package server

import (
	"fmt"
	"os"

	"github.com/benothman/xnio/xnioerrors"
)

// Responder builds the payload answering one request line. The delimiter is
// appended by the Handler.
type Responder interface {
	Respond(s *Session, request string) ([]byte, error)
}

// EchoResponder answers every request with a pong carrying the session id.
type EchoResponder struct{}

var _ Responder = EchoResponder{}

func (EchoResponder) Respond(s *Session, _ string) ([]byte, error) {
	return fmt.Appendf(nil, "[%s] Pong from server", s.ID), nil
}

// FileResponder answers every request with the content of one file. The file
// is read once, when the responder is built.
type FileResponder struct {
	path    string
	content []byte
}

var _ Responder = &FileResponder{}

// NewFileResponder loads path, which must not be larger than maxSize bytes.
func NewFileResponder(path string, maxSize int64) (*FileResponder, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", xnioerrors.ErrInvalidArgument, path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf(
			"%w: %s is %d bytes, at most %d are served",
			xnioerrors.ErrInvalidArgument, path, info.Size(), maxSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return &FileResponder{
		path:    path,
		content: content,
	}, nil
}

func (r *FileResponder) Respond(*Session, string) ([]byte, error) {
	return r.content, nil
}

func (r *FileResponder) Path() string {
	return r.path
}

func (r *FileResponder) Size() int {
	return len(r.content)
}
