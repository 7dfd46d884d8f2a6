package response

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/nhdewitt/tinyhttpd/internal/headers"
)

const DefaultVersion = "HTTP/1.1"

type Response struct {
	Version string
	Status  StatusCode
	Headers headers.Headers
	Body    []byte
}

func New(status StatusCode) *Response {
	return &Response{
		Version: DefaultVersion,
		Status:  status,
		Headers: headers.NewHeaders(),
	}
}

// WithBody sets the body together with its Content-Type and Content-Length.
func (r *Response) WithBody(contentType string, body []byte) *Response {
	r.Headers.Set(headers.ContentType, contentType)
	r.Headers.Set(headers.ContentLength, strconv.Itoa(len(body)))
	r.Body = body
	return r
}

// GetDefaultHeaders returns the headers every response from this server
// carries.
func GetDefaultHeaders(contentLen int) headers.Headers {
	h := headers.NewHeaders()
	h.Set(headers.ContentLength, strconv.Itoa(contentLen))
	h.Set(headers.Connection, "close")
	return h
}

// ApplyDefaults adds any default header r does not already set under any
// casing. Content-Length is always reset to the body length.
func (r *Response) ApplyDefaults() {
	if r.Headers == nil {
		r.Headers = headers.NewHeaders()
	}
	setContentLength(r.Headers, len(r.Body))
	for k, v := range GetDefaultHeaders(len(r.Body)) {
		if !hasFold(r.Headers, k) {
			r.Headers.Set(k, v)
		}
	}
}

// WriteTo serializes r onto w. Content-Length is forced to the body length
// whenever the body is non-empty or any Content-Length header is set, and
// is written exactly once. Nothing follows the body.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	rw := NewWriter(cw)

	version := r.Version
	if version == "" {
		version = DefaultVersion
	}
	h := headers.NewHeaders()
	for k, v := range r.Headers {
		h.Set(k, v)
	}
	if len(r.Body) > 0 || hasFold(h, headers.ContentLength) {
		setContentLength(h, len(r.Body))
	}

	if err := rw.WriteStatusLine(version, r.Status); err != nil {
		return cw.n, err
	}
	if err := rw.WriteHeaders(h); err != nil {
		return cw.n, err
	}
	_, err := rw.WriteBody(r.Body)
	return cw.n, err
}

// Bytes returns the wire form of r. It cannot fail.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return buf.Bytes()
}

// setContentLength drops every casing of Content-Length from h before
// setting the canonical one, since the writer title-cases names and would
// emit them all as the same field.
func setContentLength(h headers.Headers, n int) {
	for k := range h {
		if strings.EqualFold(k, headers.ContentLength) {
			h.Del(k)
		}
	}
	h.Set(headers.ContentLength, strconv.Itoa(n))
}

func hasFold(h headers.Headers, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
