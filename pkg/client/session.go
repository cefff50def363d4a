package client

import (
	"net/http"
	"time"
)

// Session is a connection pool shared by every request of one batch. It owns
// a dedicated transport so Close releases exactly the batch's connections.
type Session struct {
	transport *http.Transport
	client    *http.Client
}

// NewSession creates a session sized for maxConns concurrent requests.
func NewSession(maxConns int) *Session {
	if maxConns < 1 {
		maxConns = 1
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = maxConns
	transport.MaxIdleConnsPerHost = maxConns
	transport.MaxConnsPerHost = maxConns
	transport.IdleConnTimeout = 90 * time.Second

	return &Session{
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
}

// Do sends req through the session's pool. Per-attempt timeouts come from
// the request context.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	return s.client.Do(req)
}

// Close releases idle connections held by the session.
func (s *Session) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}
