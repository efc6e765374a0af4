package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/telclaude/vault/internal/logging"
)

// readerBufferSize is bufio.Reader's internal chunk size, independent of
// the maxLineBytes cap enforced by readLine below.
const readerBufferSize = 64 * 1024

// Conn drives one IPC connection. It is single-threaded: requests are
// read and dispatched one line at a time, so responses are returned in
// the order requests were received without a separate reordering buffer.
type Conn struct {
	netConn      net.Conn
	dispatcher   *Dispatcher
	maxLineBytes int
	clientID     string
}

// NewConn wraps an accepted connection. clientID is used only for
// logging; request payloads themselves are never logged.
func NewConn(netConn net.Conn, dispatcher *Dispatcher, maxLineBytes int, clientID string) *Conn {
	return &Conn{netConn: netConn, dispatcher: dispatcher, maxLineBytes: maxLineBytes, clientID: clientID}
}

// Serve reads newline-delimited JSON requests until EOF, a fatal read
// error, an oversize line, or ctx cancellation, dispatching each one and
// writing its response before reading the next.
func (c *Conn) Serve(ctx context.Context) {
	defer c.netConn.Close()

	reader := bufio.NewReaderSize(c.netConn, readerBufferSize)
	writer := bufio.NewWriter(c.netConn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := readLine(reader, c.maxLineBytes)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, errLineTooLong) {
				logging.Logger.Warn("ipc: line exceeded max size, closing connection", "client", c.clientID, "max_bytes", c.maxLineBytes)
				c.writeResponse(writer, errorResponse(errLineTooLong))
				return
			}
			logging.Logger.Error("ipc: read error", "client", c.clientID, "error", err)
			return
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		logging.Logger.Debug("ipc: request received", "client", c.clientID, "line_length", len(line))

		resp := c.dispatcher.Handle(ctx, line)
		if err := c.writeResponse(writer, resp); err != nil {
			logging.Logger.Error("ipc: write error", "client", c.clientID, "error", err)
			return
		}
	}
}

func (c *Conn) writeResponse(w *bufio.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// errLineTooLong classifies an oversize request line; the connection is
// closed after reporting it.
var errLineTooLong = errors.New("line exceeds maximum size")

// readLine reads up to and including the next '\n', enforcing maxBytes on
// the line's length (excluding the terminator). It is written directly
// against bufio.Reader rather than bufio.Scanner so an oversize line can
// be reported and the connection closed without losing track of where the
// valid prefix ended.
func readLine(r *bufio.Reader, maxBytes int) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := r.ReadSlice('\n')
		buf.Write(chunk)
		lineLen := buf.Len()
		if err == nil {
			lineLen-- // the '\n' terminator does not count toward maxBytes
		}
		if lineLen > maxBytes {
			return nil, errLineTooLong
		}
		if err == nil {
			line := buf.Bytes()
			return line[:len(line)-1], nil // strip trailing '\n'
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue // ReadSlice hit its internal buffer boundary, not a real line end
		}
		return nil, err
	}
}
