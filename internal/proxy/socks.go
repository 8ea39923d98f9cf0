// Package proxy builds HTTP clients for the online actions.
package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// NewClient returns an HTTP client that dials through the SOCKS5 proxy at
// socksAddr, or directly when socksAddr is empty.
func NewClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if socksAddr == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		dial = cd.DialContext
	}

	return &http.Client{
		Transport: &http.Transport{DialContext: dial},
		Timeout:   timeout,
	}, nil
}
