package relay

import (
	"net"
	"testing"
	"time"
)

func TestAcceptorServeAndClose(t *testing.T) {
	a, err := Listen("127.0.0.1:0", discardLogger())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	accepted := make(chan net.Conn, 4)
	served := make(chan error, 1)
	go func() {
		served <- a.Serve(func(c net.Conn) { accepted <- c })
	}()

	for i := 0; i < 3; i++ {
		conn, err := net.DialTimeout("tcp", a.Addr().String(), time.Second)
		if err != nil {
			t.Fatalf("Dial %d failed: %v", i, err)
		}
		defer conn.Close()

		select {
		case c := <-accepted:
			defer c.Close()
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d was not handed to admit", i)
		}
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v after Close, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	if err := a.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestAcceptorCloseBeforeServe(t *testing.T) {
	a, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Serve(func(net.Conn) {}); err != nil {
		t.Errorf("Serve on a closed acceptor returned %v, want nil", err)
	}
}
