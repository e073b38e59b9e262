package relay

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
)

func pipeTransport(t *testing.T, maxSize int) (Transport, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return NewLineTransport(server, maxSize), client
}

func writeAsync(conn net.Conn, chunks ...string) {
	go func() {
		for _, c := range chunks {
			if _, err := conn.Write([]byte(c)); err != nil {
				return
			}
		}
		_ = conn.Close()
	}()
}

func readAll(t *testing.T, tr Transport) []string {
	t.Helper()
	var got []string
	for {
		msg, err := tr.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("ReadMessage failed: %v", err)
			}
			return got
		}
		got = append(got, msg)
	}
}

func TestLineTransportFraming(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "two messages in one write",
			chunks: []string{"hello\nworld\n"},
			want:   []string{"hello", "world"},
		},
		{
			name:   "one message split across writes",
			chunks: []string{"hel", "lo wor", "ld\n"},
			want:   []string{"hello world"},
		},
		{
			name:   "carriage returns are stripped",
			chunks: []string{"hi\r\nthere\r\n"},
			want:   []string{"hi", "there"},
		},
		{
			name:   "empty lines are skipped",
			chunks: []string{"\n\none\n\r\ntwo\n"},
			want:   []string{"one", "two"},
		},
		{
			name:   "final line without newline",
			chunks: []string{"first\nlast"},
			want:   []string{"first", "last"},
		},
		{
			name:   "utf-8 survives splitting inside a rune",
			chunks: []string{"приве", "т\n"},
			want:   []string{"привет"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, client := pipeTransport(t, 0)
			writeAsync(client, tt.chunks...)

			got := readAll(t, tr)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineTransportMaxSize(t *testing.T) {
	t.Run("line of exactly max size is accepted", func(t *testing.T) {
		tr, client := pipeTransport(t, 8)
		writeAsync(client, "12345678\n")

		msg, err := tr.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if msg != "12345678" {
			t.Errorf("got %q", msg)
		}
	})

	t.Run("CRLF line of exactly max size is accepted", func(t *testing.T) {
		tr, client := pipeTransport(t, 8)
		writeAsync(client, "12345678\r\n")

		msg, err := tr.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if msg != "12345678" {
			t.Errorf("got %q", msg)
		}
	})

	t.Run("one byte over max size fails", func(t *testing.T) {
		tr, client := pipeTransport(t, 8)
		writeAsync(client, "123456789\r\n")

		if _, err := tr.ReadMessage(); !errors.Is(err, ErrMessageTooLong) {
			t.Errorf("Expected ErrMessageTooLong, got %v", err)
		}
	})

	t.Run("longer line fails", func(t *testing.T) {
		tr, client := pipeTransport(t, 8)
		writeAsync(client, "123456789\n")

		if _, err := tr.ReadMessage(); !errors.Is(err, ErrMessageTooLong) {
			t.Errorf("Expected ErrMessageTooLong, got %v", err)
		}
	})
}

func TestLineTransportWriteAppendsNewline(t *testing.T) {
	tr, client := pipeTransport(t, 0)

	go func() {
		_ = tr.WriteMessage("Client 1: hi")
	}()

	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	if line != "Client 1: hi\n" {
		t.Errorf("got %q", line)
	}
}

func TestLineTransportCloseUnblocksRead(t *testing.T) {
	tr, _ := pipeTransport(t, 0)

	done := make(chan error, 1)
	go func() {
		_, err := tr.ReadMessage()
		done <- err
	}()

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := <-done; !IsExpectedCloseError(err) {
		t.Errorf("Expected a close error, got %v", err)
	}
}
