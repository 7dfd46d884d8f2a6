package server

import (
	"github.com/nhdewitt/tinyhttpd/internal/request"
	"github.com/nhdewitt/tinyhttpd/internal/response"
)

// Handler turns a parsed request into the response written back on the
// same connection.
type Handler func(req *request.Request) *response.Response
