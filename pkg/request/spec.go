// Package request describes single page fetches and builds them for the
// common vendor paging schemes.
package request

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Supported HTTP methods.
const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// Spec is an immutable description of one page fetch.
type Spec struct {
	// PageID orders and identifies the page within its batch.
	PageID int

	Method string
	URL    string
	Header http.Header
	Query  url.Values

	// Body is sent as-is for POST requests.
	Body []byte
}

// Validate checks that the spec can be turned into a request.
func (s Spec) Validate() error {
	switch s.Method {
	case MethodGet, MethodPost:
	default:
		return fmt.Errorf("unsupported method %q", s.Method)
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q must be absolute", s.URL)
	}
	return nil
}

// NewRequest builds a fresh *http.Request. The spec itself is never modified,
// so one spec may be sent any number of times.
func (s Spec) NewRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(s.Query) > 0 {
		q := u.Query()
		for key, values := range s.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body *bytes.Reader
	if len(s.Body) > 0 {
		body = bytes.NewReader(s.Body)
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, s.Method, u.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, s.Method, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = s.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	return req, nil
}

// With returns a copy of s with extra query values set. Header and query
// maps are cloned so the copy shares no mutable state with s.
func (s Spec) With(values url.Values) Spec {
	out := s
	out.Header = s.Header.Clone()
	out.Query = cloneValues(s.Query)
	if out.Query == nil {
		out.Query = url.Values{}
	}
	for key, v := range values {
		out.Query[key] = append([]string(nil), v...)
	}
	if s.Body != nil {
		out.Body = append([]byte(nil), s.Body...)
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	return out
}
