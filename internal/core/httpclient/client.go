// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mohammed-shakir/brewery-cache/internal/core/observability"
)

type Options struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	UserAgent  string
	// Base overrides the pooled transport (tests).
	Base http.RoundTripper
}

// NewOutbound creates a new outbound http client
func NewOutbound(o Options) *http.Client {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	base := o.Base
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	return &http.Client{
		Transport: &retryTransport{
			next:      base,
			retries:   max(o.Retries, 0),
			delay:     o.RetryDelay,
			userAgent: o.UserAgent,
		},
		Timeout: o.Timeout,
	}
}

// retryTransport repeats idempotent requests after a transport error or a 5xx.
type retryTransport struct {
	next      http.RoundTripper
	retries   int
	delay     time.Duration
	userAgent string
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	retryable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			req.Body = body
		}

		resp, err := t.next.RoundTrip(req)
		last := attempt >= t.retries || !retryable
		switch {
		case err != nil:
			if last || req.Context().Err() != nil {
				return nil, err
			}
			observability.IncUpstreamRetry("transport")
		case resp.StatusCode >= 500 && !last:
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
			observability.IncUpstreamRetry("status_" + strconv.Itoa(resp.StatusCode))
		default:
			return resp, nil
		}

		if t.delay > 0 {
			timer := time.NewTimer(t.delay)
			select {
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			case <-timer.C:
			}
		}
	}
}
