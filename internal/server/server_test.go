package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nhdewitt/tinyhttpd/internal/config"
	"github.com/nhdewitt/tinyhttpd/internal/files"
	"github.com/nhdewitt/tinyhttpd/internal/request"
	"github.com/nhdewitt/tinyhttpd/internal/response"
	"github.com/nhdewitt/tinyhttpd/internal/router"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

var testOptions = Options{
	Workers:        4,
	QueueSize:      64,
	ReadTimeout:    2 * time.Second,
	WriteTimeout:   2 * time.Second,
	MaxHeaderBytes: 8 << 10,
	MaxBodyBytes:   1 << 20,
}

func startServer(t *testing.T, handler Handler, opts Options) *Server {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)

	s := New(ln, opts, handler, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s
}

func startRouter(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := files.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rt := router.New(store, zerolog.Nop())
	return startServer(t, rt.Route, testOptions), dir
}

// exchange writes raw to a fresh connection and reads until the server
// closes it.
func exchange(addr net.Addr, raw ...string) (string, error) {
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return "", err
	}

	for _, part := range raw {
		if _, err := io.WriteString(conn, part); err != nil {
			return "", err
		}
	}

	out, err := io.ReadAll(conn)
	return string(out), err
}

func roundTrip(t *testing.T, addr net.Addr, raw ...string) string {
	t.Helper()
	out, err := exchange(addr, raw...)
	require.NoError(t, err)
	return out
}

func TestServeRoutes(t *testing.T) {
	s, dir := startRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo"), []byte("Hello, World!"), 0o644))

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "root",
			raw:  "GET / HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			want: "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "echo",
			raw:  "GET /echo/a/b/c HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			want: "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\na/b/c",
		},
		{
			name: "user agent",
			raw:  "GET /user-agent HTTP/1.1\r\nHost: localhost:4221\r\nUser-Agent: foobar/1.2.3\r\n\r\n",
			want: "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 12\r\nContent-Type: text/plain\r\n\r\nfoobar/1.2.3",
		},
		{
			name: "user agent missing",
			raw:  "GET /user-agent HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			want: "HTTP/1.1 500 Internal Server Error\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "file",
			raw:  "GET /files/foo HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			want: "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 13\r\nContent-Type: application/octet-stream\r\n\r\nHello, World!",
		},
		{
			name: "missing file",
			raw:  "GET /files/non_existant_file HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			want: "HTTP/1.1 404 Not Found\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "traversal",
			raw:  "GET /files/../secret HTTP/1.1\r\n\r\n",
			want: "HTTP/1.1 400 Bad Request\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "unknown",
			raw:  "DELETE /nope HTTP/1.1\r\n\r\n",
			want: "HTTP/1.1 404 Not Found\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "version echoed",
			raw:  "GET / HTTP/1.0\r\n\r\n",
			want: "HTTP/1.0 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, roundTrip(t, s.Addr(), c.raw))
		})
	}
}

func TestServePostThenGet(t *testing.T) {
	s, dir := startRouter(t)
	body := "12345 abcde\r\n\x00binary"

	// body arrives in several writes
	out := roundTrip(t, s.Addr(),
		"POST /files/upload HTTP/1.1\r\nHost: localhost:4221\r\n",
		fmt.Sprintf("Content-Length: %d\r\nContent-Type: application/octet-stream\r\n\r\n", len(body)),
		body[:5],
		body[5:],
	)
	assert.Equal(t, "HTTP/1.1 201 Created\r\nConnection: close\r\nContent-Length: 0\r\n\r\n", out)

	data, err := os.ReadFile(filepath.Join(dir, "upload"))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	out = roundTrip(t, s.Addr(), "GET /files/upload HTTP/1.1\r\n\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"+body))
}

func TestServeRejects(t *testing.T) {
	s, _ := startRouter(t)

	// no parsable request line: closed without a response
	assert.Empty(t, roundTrip(t, s.Addr(), "BREW /pot HTTP/1.1\r\n\r\n"))
	assert.Empty(t, roundTrip(t, s.Addr(), "garbage\r\n\r\n"))

	// request line parsed, headers broken
	assert.Equal(t,
		"HTTP/1.1 400 Bad Request\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		roundTrip(t, s.Addr(), "GET / HTTP/1.1\r\nno colon here\r\n\r\n"))
	assert.Equal(t,
		"HTTP/1.1 400 Bad Request\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		roundTrip(t, s.Addr(), "POST /files/x HTTP/1.1\r\nContent-Length: ten\r\n\r\n"))

	// declared body over the limit
	assert.Equal(t,
		"HTTP/1.1 413 Content Too Large\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		roundTrip(t, s.Addr(), "POST /files/x HTTP/1.1\r\nContent-Length: 999999999\r\n\r\n"))
}

func TestServeRejectWhileClientStreams(t *testing.T) {
	s, _ := startRouter(t)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "POST /files/big HTTP/1.1\r\nContent-Length: 2000000\r\n\r\n")
	require.NoError(t, err)

	sent := make(chan error, 1)
	go func() {
		chunk := []byte(strings.Repeat("x", 4096))
		for range 16 {
			if _, err := conn.Write(chunk); err != nil {
				sent <- err
				return
			}
		}
		sent <- conn.(*net.TCPConn).CloseWrite()
	}()

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t,
		"HTTP/1.1 413 Content Too Large\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		string(out))
	assert.NoError(t, <-sent)
}

func TestServeTruncatedBody(t *testing.T) {
	s, dir := startRouter(t)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "POST /files/partial HTTP/1.1\r\nContent-Length: 100\r\n\r\nonly a few bytes")
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = os.Stat(filepath.Join(dir, "partial"))
	assert.True(t, os.IsNotExist(err))
}

func TestServeConcurrent(t *testing.T) {
	s, _ := startRouter(t)

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			word := fmt.Sprintf("conn-%03d", i)
			var raw, want string
			if i%2 == 0 {
				raw = "GET /echo/" + word + " HTTP/1.1\r\n\r\n"
			} else {
				raw = "GET /user-agent HTTP/1.1\r\nUser-Agent: " + word + "\r\n\r\n"
			}
			want = "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 8\r\nContent-Type: text/plain\r\n\r\n" + word
			out, err := exchange(s.Addr(), raw)
			assert.NoError(t, err)
			assert.Equal(t, want, out)
		}()
	}
	wg.Wait()
}

func TestServeHandlerPanic(t *testing.T) {
	s := startServer(t, func(req *request.Request) *response.Response {
		if req.RequestLine.Path == "/panic" {
			panic("handler bug")
		}
		return response.New(response.StatusOK)
	}, Options{Workers: 1, QueueSize: 4})

	assert.Empty(t, roundTrip(t, s.Addr(), "GET /panic HTTP/1.1\r\n\r\n"))
	// the only worker is still alive
	assert.Equal(t,
		"HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		roundTrip(t, s.Addr(), "GET / HTTP/1.1\r\n\r\n"))
	assert.Equal(t, uint64(1), s.Stats().Panics)
}

func TestServeReadTimeout(t *testing.T) {
	opts := testOptions
	opts.ReadTimeout = 50 * time.Millisecond
	s := startServer(t, func(*request.Request) *response.Response {
		return response.New(response.StatusOK)
	}, opts)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// stall after a partial request line
	_, err = io.WriteString(conn, "GET / HT")
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestServeClose(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)

	started := make(chan struct{})
	s := New(ln, Options{Workers: 1, QueueSize: 4}, func(*request.Request) *response.Response {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return response.New(response.StatusOK).WithBody("text/plain", []byte("slow"))
	}, zerolog.Nop())

	result := make(chan string, 1)
	go func() {
		out, _ := exchange(s.Addr(), "GET / HTTP/1.1\r\n\r\n")
		result <- out
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	// in-flight connection finished before Close returned
	select {
	case out := <-result:
		assert.True(t, strings.HasSuffix(out, "\r\n\r\nslow"))
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request did not complete")
	}

	_, err = net.DialTimeout("tcp", s.Addr().String(), time.Second)
	require.Error(t, err)

	// closing twice is a no-op
	require.NoError(t, s.Close(ctx))
}

func TestServeBindFailure(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	_, err = Serve(cfg, func(*request.Request) *response.Response { return nil }, zerolog.Nop())
	require.Error(t, err)
}

func TestServeConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0

	s, err := Serve(cfg, func(*request.Request) *response.Response {
		return response.New(response.StatusOK)
	}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close(context.Background())

	assert.Equal(t, 4, s.Stats().Workers)
	assert.Contains(t, roundTrip(t, s.Addr(), "GET / HTTP/1.1\r\n\r\n"), "200 OK")
}
