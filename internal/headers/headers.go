package headers

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	ContentLength = "Content-Length"
	ContentType   = "Content-Type"
	UserAgent     = "User-Agent"
	Connection    = "Connection"
	Allow         = "Allow"

	validFieldNameChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!#$%&'*+-.^_`|~"
)

var (
	ErrMalformedHeader = errors.New("malformed header line")
	ErrInvalidLength   = errors.New("invalid Content-Length")
)

// Headers maps a field name to its value. Names are case-sensitive and a
// repeated name replaces the earlier value.
type Headers map[string]string

func NewHeaders() Headers {
	return map[string]string{}
}

// Parse consumes at most one header line from data. It returns the number
// of bytes consumed and done=true once the blank line ending the header
// section has been consumed. n == 0 with a nil error means more data is
// needed. Lines may end in CRLF or a bare LF.
func (h Headers) Parse(data []byte) (n int, done bool, err error) {
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		return 0, false, nil
	}
	n = idx + 1
	line := bytes.TrimSuffix(data[:idx], []byte("\r"))
	if len(line) == 0 {
		return n, true, nil
	}

	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx == -1 {
		return 0, false, fmt.Errorf("%w (no colon): %q", ErrMalformedHeader, line)
	}

	name := bytes.TrimSpace(line[:colonIdx])
	if len(name) == 0 {
		return 0, false, fmt.Errorf("%w (empty field-name): %q", ErrMalformedHeader, line)
	}
	for _, c := range name {
		if strings.IndexByte(validFieldNameChars, c) == -1 {
			return 0, false, fmt.Errorf("%w (invalid character in field-name): %q", ErrMalformedHeader, line)
		}
	}

	h.Set(string(name), string(bytes.TrimSpace(line[colonIdx+1:])))

	return n, false, nil
}

func (h Headers) Set(key, value string) {
	h[key] = value
}

func (h Headers) Get(key string) (value string, ok bool) {
	value, ok = h[key]
	return value, ok
}

func (h Headers) Del(key string) {
	delete(h, key)
}

// ContentLength returns the declared body length. A missing header is
// reported as ok=false with a nil error.
func (h Headers) ContentLength() (length int64, ok bool, err error) {
	v, ok := h.Get(ContentLength)
	if !ok {
		return 0, false, nil
	}
	if v == "" || strings.IndexFunc(v, func(r rune) bool { return r < '0' || r > '9' }) != -1 {
		return 0, true, fmt.Errorf("%w: %q", ErrInvalidLength, v)
	}
	length, err = strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %q", ErrInvalidLength, v)
	}
	return length, true, nil
}
