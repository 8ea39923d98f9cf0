package proxy

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDirectClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c, err := NewClient("", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}
}

func TestSocksClientDialsProxy(t *testing.T) {
	// a listener that accepts and hangs up stands in for a broken proxy
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- struct{}{}
		conn.Close()
	}()

	c, err := NewClient(ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("http://example.invalid/"); err == nil {
		t.Fatal("request through a broken proxy succeeded")
	}
	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("client never dialed the proxy")
	}
}
