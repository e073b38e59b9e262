package relay

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"
)

// DefaultMaxMessageSize bounds a single inbound frame.
const DefaultMaxMessageSize = 4096

// Transport carries framed UTF-8 text messages for a single session.
//
// ReadMessage is only called from the session's read loop and WriteMessage
// only from its write loop, so implementations need not serialise either
// against itself. Close may be called from any goroutine and must unblock a
// pending ReadMessage.
type Transport interface {
	ReadMessage() (string, error)
	WriteMessage(msg string) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// lineTransport frames messages on a byte stream with '\n'.
type lineTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	maxSize int
}

// NewLineTransport wraps a stream connection so that every inbound line is one
// message and every outbound message is terminated by '\n'. A trailing '\r' is
// stripped and empty lines are skipped. Lines longer than maxSize bytes, not
// counting the line terminator, fail the read with ErrMessageTooLong.
func NewLineTransport(conn net.Conn, maxSize int) Transport {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	scanner := bufio.NewScanner(conn)
	initial := maxSize
	if initial > 4096 {
		initial = 4096
	}
	// Room for a maxSize-long line plus "\r\n".
	scanner.Buffer(make([]byte, 0, initial), maxSize+2)
	return &lineTransport{conn: conn, scanner: scanner, maxSize: maxSize}
}

func (t *lineTransport) ReadMessage() (string, error) {
	for t.scanner.Scan() {
		line := t.scanner.Text()
		if line == "" {
			continue
		}
		if len(line) > t.maxSize {
			return "", ErrMessageTooLong
		}
		return line, nil
	}
	err := t.scanner.Err()
	switch {
	case err == nil:
		return "", io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return "", ErrMessageTooLong
	default:
		return "", err
	}
}

func (t *lineTransport) WriteMessage(msg string) error {
	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	_, err := t.conn.Write(buf)
	return err
}

func (t *lineTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *lineTransport) SetWriteDeadline(d time.Time) error {
	return t.conn.SetWriteDeadline(d)
}

func (t *lineTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (t *lineTransport) Close() error {
	return t.conn.Close()
}
