package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/telclaude/vault/internal/logging"
)

// ErrSocketPermissions is returned when the listening socket's mode could
// not be verified as 0600 after chmod. The listener is torn down before
// this is returned; a socket with the wrong mode must never serve.
var ErrSocketPermissions = errors.New("critical_permissions")

// Server owns the unix-socket listener and the per-connection handlers.
type Server struct {
	path         string
	dispatcher   *Dispatcher
	maxLineBytes int

	listener net.Listener

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer prepares a server for the socket at path. Nothing is bound
// until Listen.
func NewServer(path string, dispatcher *Dispatcher, maxLineBytes int) *Server {
	return &Server{path: path, dispatcher: dispatcher, maxLineBytes: maxLineBytes}
}

// Listen binds the unix socket: create the parent directory with mode
// 0700, unlink any stale socket, bind, chmod the socket to 0600, and stat
// it to verify the mode took. If verification fails the listener is
// closed and ErrSocketPermissions returned.
func (s *Server) Listen() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Best effort: a stale socket from a previous run would make bind fail.
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Logger.Warn("could not remove stale socket", "path", s.path, "error", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}

	if err := os.Chmod(s.path, 0o600); err != nil {
		listener.Close()
		os.Remove(s.path)
		return fmt.Errorf("%w: chmod socket: %v", ErrSocketPermissions, err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		listener.Close()
		os.Remove(s.path)
		return fmt.Errorf("%w: stat socket: %v", ErrSocketPermissions, err)
	}
	if info.Mode().Perm() != 0o600 {
		listener.Close()
		os.Remove(s.path)
		return fmt.Errorf("%w: socket mode is %04o, want 0600", ErrSocketPermissions, info.Mode().Perm())
	}

	s.listener = listener
	return nil
}

// Addr returns the bound socket path. Valid only after Listen.
func (s *Server) Addr() string {
	return s.path
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, handling each connection in its own goroutine. The accept loop
// is the only goroutine accepting on the listener; a watcher goroutine
// closes it when ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	go func() {
		<-ctx.Done()
		s.closeListener()
	}()

	var clientSeq uint64
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			logging.Logger.Error("accept failed", "error", err)
			return err
		}

		clientSeq++
		clientID := fmt.Sprintf("conn-%d", clientSeq)
		logging.Logger.Debug("connection accepted", "client", clientID)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewConn(conn, s.dispatcher, s.maxLineBytes, clientID).Serve(ctx)
			logging.Logger.Debug("connection closed", "client", clientID)
		}()
	}
}

// Shutdown stops accepting, waits for in-flight connection handlers to
// drain, and unlinks the socket.
func (s *Server) Shutdown() {
	s.closeListener()
	s.wg.Wait()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Logger.Warn("could not unlink socket", "path", s.path, "error", err)
	}
}

func (s *Server) closeListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
