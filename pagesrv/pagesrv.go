// Package pagesrv serves a local directory over HTTP on an ephemeral
// loopback port. Used for the calibration page and demo fixtures, where
// the browser needs a real http:// origin rather than file://.
package pagesrv

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is a running static file server.
type Server struct {
	baseURL string
	http    *http.Server
	ln      net.Listener
	done    chan struct{}
}

// Serve starts serving dir on 127.0.0.1 with an OS-assigned port.
func Serve(dir string) (*Server, error) {
	return ServeOn(dir, "127.0.0.1:0")
}

// ServeOn starts serving dir on an explicit address.
func ServeOn(dir, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pagesrv: listen %s: %w", addr, err)
	}

	s := &Server{
		baseURL: "http://" + ln.Addr().String(),
		http: &http.Server{
			Handler:           http.FileServer(http.Dir(dir)),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("pagesrv: serve stopped", "error", err)
		}
	}()

	slog.Debug("pagesrv: serving", "dir", dir, "url", s.baseURL)
	return s, nil
}

// BaseURL returns the server origin, e.g. http://127.0.0.1:41873.
func (s *Server) BaseURL() string { return s.baseURL }

// Close stops the server and waits for the serve loop to exit.
func (s *Server) Close() error {
	err := s.http.Close()
	<-s.done
	return err
}
