// reqdump accepts one connection at a time, logs the request parsed from
// it and answers 200. It is a debugging aid for the request parser.
package main

import (
	"flag"
	"net"
	"os"
	"time"

	"github.com/nhdewitt/tinyhttpd/internal/request"
	"github.com/nhdewitt/tinyhttpd/internal/response"
	"github.com/rs/zerolog"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:42069", "listen address")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("error listening")
	}
	defer listener.Close()

	logger.Info().Str("addr", *addr).Msg("listening for TCP traffic")
	for {
		c, err := listener.Accept()
		if err != nil {
			logger.Error().Err(err).Msg("error accepting connection")
			continue
		}
		dump(c, logger.With().Str("remote", c.RemoteAddr().String()).Logger())
	}
}

func dump(c net.Conn, logger zerolog.Logger) {
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))

	req, err := request.RequestFromReader(c)
	if err != nil {
		logger.Warn().Err(err).Msg("error parsing request")
		return
	}

	headers := zerolog.Dict()
	for k, v := range req.Headers {
		headers.Str(k, v)
	}
	logger.Info().
		Str("method", req.RequestLine.Method.String()).
		Str("path", req.RequestLine.Path).
		Str("version", req.RequestLine.Version).
		Dict("headers", headers).
		Int("body_bytes", len(req.Body)).
		Msg("request")
	if len(req.Body) > 0 {
		logger.Debug().Bytes("body", req.Body).Msg("request body")
	}

	resp := response.New(response.StatusOK)
	resp.Version = req.RequestLine.Version
	resp.ApplyDefaults()
	if _, err := resp.WriteTo(c); err != nil {
		logger.Warn().Err(err).Msg("error writing response")
	}
}
