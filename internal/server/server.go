package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nhdewitt/tinyhttpd/internal/config"
	"github.com/nhdewitt/tinyhttpd/internal/pool"
	"github.com/rs/zerolog"
)

const maxAcceptDelay = time.Second

type Options struct {
	Workers        int
	QueueSize      int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:        cfg.Pool.Size,
		QueueSize:      cfg.Pool.QueueSize,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}
}

type Server struct {
	listener    net.Listener
	isListening atomic.Bool
	handler     Handler
	opts        Options
	pool        *pool.Pool
	logger      zerolog.Logger
	done        chan struct{}
}

// Serve binds cfg.Addr() and starts accepting. A bind failure is the only
// error it returns.
func Serve(cfg *config.Config, handler Handler, logger zerolog.Logger) (*Server, error) {
	lc, err := listenConfig(cfg.Server.ReusePort)
	if err != nil {
		return nil, err
	}
	listener, err := lc.Listen(context.Background(), "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", cfg.Addr(), err)
	}

	return New(listener, OptionsFromConfig(cfg), handler, logger), nil
}

// New serves connections accepted from listener until Close.
func New(listener net.Listener, opts Options, handler Handler, logger zerolog.Logger) *Server {
	s := &Server{
		listener: listener,
		handler:  handler,
		opts:     opts,
		logger:   logger.With().Str("component", "server").Logger(),
		done:     make(chan struct{}),
	}
	s.pool = pool.New(opts.Workers, opts.QueueSize, s.handle, logger)
	s.isListening.Store(true)
	go s.listen()

	return s
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Stats() pool.Stats {
	return s.pool.Stats()
}

// Close stops accepting, then waits for queued and in-flight connections
// until ctx is done.
func (s *Server) Close(ctx context.Context) error {
	if !s.isListening.CompareAndSwap(true, false) {
		return nil
	}

	err := s.listener.Close()
	<-s.done

	if perr := s.pool.Shutdown(ctx); perr != nil {
		return errors.Join(err, fmt.Errorf("error draining connections: %w", perr))
	}
	return err
}

func (s *Server) listen() {
	defer close(s.done)

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.isListening.Load() {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}
			s.logger.Error().Err(err).Dur("retry_in", delay).Msg("error accepting connection")
			time.Sleep(delay)
			continue
		}
		delay = 0

		job := pool.Job{
			ID:       uuid.New(),
			Conn:     conn,
			Accepted: time.Now(),
		}
		if err := s.pool.Submit(job); err != nil {
			s.logger.Warn().
				Err(err).
				Str("conn_id", job.ID.String()).
				Str("remote", conn.RemoteAddr().String()).
				Msg("dropping connection")
			_ = conn.Close()
		}
	}
}
