package request

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nhdewitt/tinyhttpd/internal/headers"
)

type requestState int

const (
	bufferSize = 1024

	DefaultMaxHeaderBytes       = 8 << 10
	DefaultMaxBodyBytes   int64 = 10 << 20
)

const (
	stateRequestLine requestState = iota
	stateHeaders
	stateBody
	stateDone
)

type Request struct {
	RequestLine RequestLine
	Headers     headers.Headers
	Body        []byte

	state         requestState
	contentLength int64
	headerBytes   int
	limits        limits
}

type RequestLine struct {
	Method  Method
	Path    string
	Version string
}

type limits struct {
	maxHeaderBytes int
	maxBodyBytes   int64
}

type Option func(*limits)

// WithMaxHeaderBytes bounds the request line plus header section.
func WithMaxHeaderBytes(n int) Option {
	return func(l *limits) { l.maxHeaderBytes = n }
}

// WithMaxBodyBytes bounds the Content-Length a request may declare.
func WithMaxBodyBytes(n int64) Option {
	return func(l *limits) { l.maxBodyBytes = n }
}

// RequestFromReader reads one request from reader. The body is delimited
// only by Content-Length; bytes past it are left unread or ignored, and
// EOF before it is ErrTruncatedBody. Parse failures are *ParseError; I/O
// errors from reader are returned wrapped.
func RequestFromReader(reader io.Reader, opts ...Option) (*Request, error) {
	r := Request{
		Headers: headers.NewHeaders(),
		state:   stateRequestLine,
		limits: limits{
			maxHeaderBytes: DefaultMaxHeaderBytes,
			maxBodyBytes:   DefaultMaxBodyBytes,
		},
	}
	for _, opt := range opts {
		opt(&r.limits)
	}

	buf := make([]byte, bufferSize)
	readToIndex := 0

	for r.state != stateDone {
		if readToIndex == len(buf) {
			tmpBuf := make([]byte, len(buf)*2)
			copy(tmpBuf, buf[:readToIndex])
			buf = tmpBuf
		}

		n, err := reader.Read(buf[readToIndex:])
		if n > 0 {
			readToIndex += n

			bytesParsed, perr := r.parse(buf[:readToIndex])
			if perr != nil {
				return nil, r.fail(perr)
			}

			copy(buf, buf[bytesParsed:readToIndex])
			readToIndex -= bytesParsed

			if r.state < stateBody && r.headerBytes+readToIndex > r.limits.maxHeaderBytes {
				return nil, r.fail(fmt.Errorf("%w: header section exceeds %d bytes", ErrMalformedRequest, r.limits.maxHeaderBytes))
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if r.state == stateDone {
					break
				}
				if r.state == stateBody {
					return nil, r.fail(fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedBody, len(r.Body), r.contentLength))
				}
				return nil, r.fail(fmt.Errorf("%w: early EOF", ErrMalformedRequest))
			}
			return nil, fmt.Errorf("error reading request: %w", err)
		}
	}

	return &r, nil
}

func (r *Request) fail(err error) error {
	return &ParseError{Version: r.RequestLine.Version, Err: err}
}

// parse runs the state machine over data until it is done or needs more
// input, returning the number of bytes consumed.
func (r *Request) parse(data []byte) (int, error) {
	total := 0
	for r.state != stateDone {
		n, err := r.parseSingle(data[total:])
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

func (r *Request) parseSingle(data []byte) (int, error) {
	switch r.state {
	case stateRequestLine:
		parsed, rl, err := parseRequestLine(data)
		if err != nil {
			return 0, err
		}
		if parsed == 0 {
			return 0, nil
		}

		r.RequestLine = rl
		r.headerBytes += parsed
		r.state = stateHeaders

		return parsed, nil
	case stateHeaders:
		n, done, err := r.Headers.Parse(data)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		r.headerBytes += n
		if done {
			if err := r.startBody(); err != nil {
				return 0, err
			}
		}

		return n, nil
	case stateBody:
		remaining := r.contentLength - int64(len(r.Body))
		n := min(int64(len(data)), remaining)
		r.Body = append(r.Body, data[:n]...)
		if int64(len(r.Body)) == r.contentLength {
			r.state = stateDone
		}

		return int(n), nil
	case stateDone:
		return 0, fmt.Errorf("error: trying to read data in a done state")
	default:
		return 0, fmt.Errorf("error: unknown state")
	}
}

func (r *Request) startBody() error {
	length, ok, err := r.Headers.ContentLength()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if !ok || length == 0 {
		r.Body = []byte{}
		r.state = stateDone
		return nil
	}
	if length > r.limits.maxBodyBytes {
		return fmt.Errorf("%w: %d exceeds %d", ErrBodyTooLarge, length, r.limits.maxBodyBytes)
	}

	r.contentLength = length
	r.Body = make([]byte, 0, length)
	r.state = stateBody
	return nil
}

func parseRequestLine(req []byte) (int, RequestLine, error) {
	idx := bytes.IndexByte(req, '\n')
	if idx == -1 {
		return 0, RequestLine{}, nil
	}
	line := string(bytes.TrimSuffix(req[:idx], []byte("\r")))
	consumed := idx + 1

	rl, err := requestLineFromString(line)
	if err != nil {
		return 0, RequestLine{}, err
	}

	return consumed, *rl, nil
}

func requestLineFromString(s string) (*RequestLine, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: invalid request line: %q", ErrMalformedRequest, s)
	}

	method, ok := ParseMethod(parts[0])
	if !ok {
		return nil, fmt.Errorf("%w: invalid method: %q", ErrMalformedRequest, parts[0])
	}

	target := parts[1]
	if !strings.HasPrefix(target, "/") {
		return nil, fmt.Errorf("%w: invalid request target: %q", ErrMalformedRequest, target)
	}

	protocol, version, ok := strings.Cut(parts[2], "/")
	if !ok || protocol != "HTTP" || version == "" {
		return nil, fmt.Errorf("%w: invalid HTTP version: %q", ErrMalformedRequest, parts[2])
	}

	return &RequestLine{
		Method:  method,
		Path:    target,
		Version: parts[2],
	}, nil
}
