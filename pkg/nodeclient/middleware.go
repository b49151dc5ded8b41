// Copyright (C) 2017 ScyllaDB

package nodeclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ctxt is a context key type.
type ctxt byte

// ctxt enumeration.
const (
	ctxNoRetry ctxt = iota
)

// noRetry disables retries of a request, it's used for requests with side
// effects such as starting or terminating repair jobs.
func noRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxNoRetry, true)
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// fixContentType adjusts Scylla REST API response so that it can be consumed
// by Open API.
func fixContentType(next http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (resp *http.Response, err error) {
		defer func() {
			if resp != nil {
				// Force JSON, Scylla returns "text/plain" that misleads the
				// unmarshaller and breaks processing.
				resp.Header.Set("Content-Type", "application/json")
			}
		}()
		return next.RoundTrip(req)
	})
}

// body defers context cancellation until response body is closed.
type body struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b body) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

// timeout sets request context timeout for individual requests.
func timeout(next http.RoundTripper, d time.Duration) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (resp *http.Response, err error) {
		ctx, cancel := context.WithTimeout(req.Context(), d)
		defer func() {
			if resp != nil {
				resp.Body = body{
					ReadCloser: resp.Body,
					cancel:     cancel,
				}
			} else {
				cancel()
			}

			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
				err = errors.Errorf("timeout after %s", d)
			}
		}()
		return next.RoundTrip(req.WithContext(ctx))
	})
}
