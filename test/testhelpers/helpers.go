// Package testhelpers provides common utilities and helper functions for testing the chat relay.
//
// It starts the full stack (TCP relay plus HTTP surface) on ephemeral ports and
// offers line-oriented TCP clients and WebSocket clients so integration tests
// stay short.
package testhelpers

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/server"
)

// TestOrigin is the Origin header WebSocket clients send.
const TestOrigin = "http://localhost:8080"

const ioTimeout = 2 * time.Second

// welcomePrefix is what every greeting starts with.
const welcomePrefix = "Добро пожаловать, "

// Stack is a running relay with its HTTP surface.
type Stack struct {
	Relay *relay.Server
	HTTP  *httptest.Server
}

// StartStack starts the relay on 127.0.0.1:0 and serves the router with
// httptest. customize may adjust the configuration before anything starts.
// Both are shut down when the test ends.
func StartStack(t *testing.T, customize func(cfg *server.Config)) *Stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := server.NewConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.RateLimit.Burst = 0
	if customize != nil {
		customize(cfg)
	}
	sanitized := cfg.Sanitize()

	collector := metrics.New()
	srv, err := relay.New(append(sanitized.RelayOptions(logger), relay.WithObserver(collector))...)
	if err != nil {
		t.Fatalf("relay.New failed: %v", err)
	}
	if err := srv.Start(sanitized.TCPAddr); err != nil {
		t.Fatalf("relay Start failed: %v", err)
	}

	handler := server.NewHandler(srv, sanitized, logger, collector.Handler())
	ts := httptest.NewServer(server.SetupRoutes(handler))

	t.Cleanup(func() {
		ts.Close()
		if err := srv.Stop(ioTimeout); err != nil && !errors.Is(err, relay.ErrServerStopped) {
			t.Errorf("relay Stop failed: %v", err)
		}
	})
	return &Stack{Relay: srv, HTTP: ts}
}

// TCPAddr returns the relay's current listen address.
func (s *Stack) TCPAddr() string {
	return s.Relay.Addr().String()
}

// WebSocketURL returns the ws:// URL of the chat endpoint.
func (s *Stack) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http") + "/ws"
}

// Client is a chat participant over either transport.
type Client interface {
	Name() string
	ID() string
	Send(t *testing.T, text string)
	Receive(t *testing.T) string
	ExpectNothing(t *testing.T, wait time.Duration)
	Close() error
}

// TCPClient speaks the newline-framed protocol.
type TCPClient struct {
	Conn   net.Conn
	reader *bufio.Reader
	name   string
	id     string
}

// DialTCP connects to addr and consumes the greeting.
func DialTCP(t *testing.T, addr string) *TCPClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, ioTimeout)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &TCPClient{Conn: conn, reader: bufio.NewReader(conn)}
	c.name = ParseWelcome(t, c.Receive(t))
	c.id = c.Receive(t)
	return c
}

func (c *TCPClient) Name() string { return c.name }
func (c *TCPClient) ID() string   { return c.id }

func (c *TCPClient) Send(t *testing.T, text string) {
	t.Helper()
	if _, err := c.Conn.Write([]byte(text + "\n")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

// SendRaw writes data without framing.
func (c *TCPClient) SendRaw(t *testing.T, data string) {
	t.Helper()
	if _, err := c.Conn.Write([]byte(data)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

func (c *TCPClient) Receive(t *testing.T) string {
	t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(ioTimeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read line: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func (c *TCPClient) ExpectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(wait))
	line, err := c.reader.ReadString('\n')
	if err == nil {
		t.Fatalf("Expected no message, got %q", line)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
	}
}

// ExpectClosed waits for the server to close the connection.
func (c *TCPClient) ExpectClosed(t *testing.T) {
	t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(ioTimeout))
	for {
		if _, err := c.reader.ReadString('\n'); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("Connection still open")
			}
			return
		}
	}
}

func (c *TCPClient) Close() error { return c.Conn.Close() }

// WSClient is a browser-style client. A background goroutine owns all reads
// so waiting for a message never puts a deadline on the connection.
type WSClient struct {
	Conn     *websocket.Conn
	name     string
	id       string
	messages chan string
	done     chan struct{}
	readErr  error
}

// ConnectWebSocket dials url with the test origin and consumes the greeting.
func ConnectWebSocket(t *testing.T, url string) *WSClient {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &WSClient{
		Conn:     conn,
		messages: make(chan string, 256),
		done:     make(chan struct{}),
	}
	go c.readLoop()

	c.name = ParseWelcome(t, c.Receive(t))
	c.id = c.Receive(t)
	return c
}

func (c *WSClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		c.messages <- string(data)
	}
}

// next waits up to wait for a message. ok is false on timeout; err is set
// once the connection has ended and every buffered message was consumed.
func (c *WSClient) next(wait time.Duration) (msg string, ok bool, err error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case msg = <-c.messages:
		return msg, true, nil
	case <-c.done:
		select {
		case msg = <-c.messages:
			return msg, true, nil
		default:
			return "", false, c.readErr
		}
	case <-timer.C:
		return "", false, nil
	}
}

func (c *WSClient) Name() string { return c.name }
func (c *WSClient) ID() string   { return c.id }

func (c *WSClient) Send(t *testing.T, text string) {
	t.Helper()
	if err := c.Conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

func (c *WSClient) Receive(t *testing.T) string {
	t.Helper()
	msg, ok, err := c.next(ioTimeout)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if !ok {
		t.Fatal("Timed out waiting for a message")
	}
	return msg
}

func (c *WSClient) ExpectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	msg, ok, err := c.next(wait)
	if ok {
		t.Fatalf("Expected no message, got %q", msg)
	}
	if err != nil {
		t.Fatalf("Connection ended while waiting for absence of message: %v", err)
	}
}

// ExpectClosed waits for the server to end the WebSocket session.
func (c *WSClient) ExpectClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(ioTimeout)
	for {
		_, ok, err := c.next(time.Until(deadline))
		if err != nil {
			return
		}
		if !ok {
			t.Fatal("WebSocket still open")
		}
	}
}

// Close sends a normal close frame and closes the socket.
func (c *WSClient) Close() error {
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.Conn.Close()
}

// ParseWelcome extracts the display name from a greeting line.
func ParseWelcome(t *testing.T, line string) string {
	t.Helper()
	if !strings.HasPrefix(line, welcomePrefix) || !strings.HasSuffix(line, "!") {
		t.Fatalf("Unexpected welcome line %q", line)
	}
	return strings.TrimSuffix(strings.TrimPrefix(line, welcomePrefix), "!")
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// Eventually polls cond until it holds or two seconds pass.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(ioTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met: %s", msg)
}
