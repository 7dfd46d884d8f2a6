package request

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest covers a bad request line, bad header lines,
	// an invalid Content-Length or a header section that never ends.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrTruncatedBody means the peer closed before sending the number of
	// body bytes its Content-Length declared.
	ErrTruncatedBody = errors.New("truncated body")
	ErrBodyTooLarge  = errors.New("body too large")
)

// ParseError is returned by RequestFromReader for every parse failure.
// Version is set once the request line was parsed, which lets a caller
// answer with a status line the client can read.
type ParseError struct {
	Version string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing request: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) RequestLineParsed() bool {
	return e.Version != ""
}
