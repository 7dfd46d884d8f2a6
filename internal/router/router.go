// Package router maps a parsed request to a response. The route table is
// fixed: root, echo, user-agent and files.
package router

import (
	"errors"
	"strings"

	"github.com/nhdewitt/tinyhttpd/internal/files"
	"github.com/nhdewitt/tinyhttpd/internal/headers"
	"github.com/nhdewitt/tinyhttpd/internal/request"
	"github.com/nhdewitt/tinyhttpd/internal/response"
	"github.com/rs/zerolog"
)

const (
	contentTypeText   = "text/plain"
	contentTypeBinary = "application/octet-stream"
)

// FileStore is the served directory as the files route sees it.
type FileStore interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
}

type handlerFunc func(rt *Router, req *request.Request, rest []string) *response.Response

type route struct {
	segment string
	handler handlerFunc
}

// routes is matched in order against the first path segment.
var routes = []route{
	{segment: "", handler: (*Router).handleRoot},
	{segment: "echo", handler: (*Router).handleEcho},
	{segment: "user-agent", handler: (*Router).handleUserAgent},
	{segment: "files", handler: (*Router).handleFiles},
}

type Router struct {
	files  FileStore
	logger zerolog.Logger
}

func New(fs FileStore, logger zerolog.Logger) *Router {
	return &Router{
		files:  fs,
		logger: logger.With().Str("component", "router").Logger(),
	}
}

// Route never fails: every outcome, including handler errors, is a
// response.
func (rt *Router) Route(req *request.Request) *response.Response {
	first, rest := splitPath(req.RequestLine.Path)
	for _, r := range routes {
		if r.segment == first {
			resp := r.handler(rt, req, rest)
			resp.Version = req.RequestLine.Version
			return resp
		}
	}
	resp := response.New(response.StatusNotFound)
	resp.Version = req.RequestLine.Version
	return resp
}

// splitPath drops the leading slash and returns the first segment and the
// remaining ones.
func splitPath(path string) (string, []string) {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	return segments[0], segments[1:]
}

func (rt *Router) handleRoot(_ *request.Request, _ []string) *response.Response {
	return response.New(response.StatusOK)
}

func (rt *Router) handleEcho(_ *request.Request, rest []string) *response.Response {
	content := strings.Join(rest, "/")
	return response.New(response.StatusOK).WithBody(contentTypeText, []byte(content))
}

func (rt *Router) handleUserAgent(req *request.Request, _ []string) *response.Response {
	ua, ok := req.Headers.Get(headers.UserAgent)
	if !ok {
		rt.logger.Warn().Msg("user-agent route requested without a User-Agent header")
		return response.New(response.StatusInternalServerError)
	}
	return response.New(response.StatusOK).WithBody(contentTypeText, []byte(ua))
}

func (rt *Router) handleFiles(req *request.Request, rest []string) *response.Response {
	name := ""
	if len(rest) > 0 {
		name = rest[0]
	}

	switch req.RequestLine.Method {
	case request.MethodGet:
		return rt.getFile(name)
	case request.MethodPost:
		return rt.postFile(name, req.Body)
	default:
		resp := response.New(response.StatusMethodNotAllowed)
		resp.Headers.Set(headers.Allow, "GET, POST")
		return resp
	}
}

func (rt *Router) getFile(name string) *response.Response {
	data, err := rt.files.Read(name)
	switch {
	case err == nil:
		return response.New(response.StatusOK).WithBody(contentTypeBinary, data)
	case errors.Is(err, files.ErrNotExist):
		return response.New(response.StatusNotFound)
	case errors.Is(err, files.ErrInvalidName):
		rt.logger.Warn().Str("name", name).Msg("rejected file name")
		return response.New(response.StatusBadRequest)
	default:
		rt.logger.Error().Err(err).Str("name", name).Msg("file read failed")
		return response.New(response.StatusInternalServerError)
	}
}

func (rt *Router) postFile(name string, body []byte) *response.Response {
	err := rt.files.Write(name, body)
	switch {
	case err == nil:
		return response.New(response.StatusCreated)
	case errors.Is(err, files.ErrInvalidName):
		rt.logger.Warn().Str("name", name).Msg("rejected file name")
		return response.New(response.StatusBadRequest)
	default:
		rt.logger.Error().Err(err).Str("name", name).Msg("file write failed")
		return response.New(response.StatusInternalServerError)
	}
}
