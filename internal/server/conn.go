package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/nhdewitt/tinyhttpd/internal/pool"
	"github.com/nhdewitt/tinyhttpd/internal/request"
	"github.com/nhdewitt/tinyhttpd/internal/response"
	"github.com/rs/zerolog"
)

const (
	// lingerBytes bounds how much unread request input is discarded after
	// an early error response.
	lingerBytes   = 256 << 10
	lingerTimeout = 500 * time.Millisecond
)

// handle runs the whole pipeline for one connection: read, parse, route,
// serialize, write, close.
func (s *Server) handle(job pool.Job) {
	conn := job.Conn
	defer conn.Close()

	logger := s.logger.With().
		Str("conn_id", job.ID.String()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	if s.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	}

	var opts []request.Option
	if s.opts.MaxHeaderBytes > 0 {
		opts = append(opts, request.WithMaxHeaderBytes(s.opts.MaxHeaderBytes))
	}
	if s.opts.MaxBodyBytes > 0 {
		opts = append(opts, request.WithMaxBodyBytes(s.opts.MaxBodyBytes))
	}

	var resp *response.Response
	var rejected bool
	req, err := request.RequestFromReader(conn, opts...)
	if err != nil {
		resp = errorResponse(err)
		if resp == nil {
			logger.Debug().Err(err).Msg("closing connection without response")
			return
		}
		rejected = true
		logger.Debug().Err(err).Int("status", int(resp.Status)).Msg("rejecting request")
	} else if resp = s.handler(req); resp == nil {
		resp = response.New(response.StatusInternalServerError)
		resp.Version = req.RequestLine.Version
	}
	resp.ApplyDefaults()

	if s.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	if _, err := conn.Write(resp.Bytes()); err != nil {
		logger.Debug().Err(err).Msg("error writing response")
		return
	}

	if rejected {
		linger(conn)
		return
	}
	if req != nil {
		logRequest(logger, req, resp, time.Since(job.Accepted))
	}
}

// linger half-closes conn and discards what the client is still sending,
// so closing with unread input does not reset the connection before the
// client has read the response.
func linger(conn net.Conn) {
	cw, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := cw.CloseWrite(); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, lingerBytes))
}

// errorResponse picks the answer to a failed parse. Without a parsed
// request line there is nothing to answer, so it returns nil.
func errorResponse(err error) *response.Response {
	var perr *request.ParseError
	if !errors.As(err, &perr) || !perr.RequestLineParsed() {
		return nil
	}

	var resp *response.Response
	switch {
	case errors.Is(err, request.ErrBodyTooLarge):
		resp = response.New(response.StatusContentTooLarge)
	case errors.Is(err, request.ErrMalformedRequest):
		resp = response.New(response.StatusBadRequest)
	default:
		return nil
	}
	resp.Version = perr.Version
	return resp
}

func logRequest(logger zerolog.Logger, req *request.Request, resp *response.Response, elapsed time.Duration) {
	logger.Info().
		Str("method", req.RequestLine.Method.String()).
		Str("path", req.RequestLine.Path).
		Int("status", int(resp.Status)).
		Int("bytes", len(resp.Body)).
		Dur("elapsed", elapsed).
		Msg("request handled")
}
