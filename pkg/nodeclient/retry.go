// Copyright (C) 2017 ScyllaDB

package nodeclient

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-openapi/runtime"
	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"github.com/scylladb/scylla-manager/v3/swagger/gen/scylla/v1/models"
)

type retryableTransport struct {
	transport runtime.ClientTransport
	config    BackoffConfig
	logger    log.Logger
}

// retryable wraps parent and adds retry capabilities.
func retryable(transport runtime.ClientTransport, config BackoffConfig, logger log.Logger) runtime.ClientTransport {
	return retryableTransport{
		transport: transport,
		config:    config,
		logger:    logger,
	}
}

func (t retryableTransport) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.config.WaitMin
	b.MaxInterval = t.config.WaitMax
	b.Multiplier = t.config.Multiplier
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, t.config.MaxRetries), ctx)
}

func (t retryableTransport) Submit(operation *runtime.ClientOperation) (interface{}, error) {
	ctx := operation.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(ctxNoRetry).(bool); ok {
		v, err := t.transport.Submit(operation)
		return v, unpackURLError(err)
	}

	var (
		result   interface{}
		attempts int
	)
	op := func() error {
		attempts++
		v, err := t.transport.Submit(operation)
		if err != nil {
			if !shouldRetry(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		t.logger.Info(ctx, "HTTP retry backoff",
			"operation", operation.ID,
			"wait", wait,
			"error", unpackURLError(err),
		)
	}

	if err := backoff.RetryNotify(op, t.backoff(ctx), notify); err != nil {
		err = unpackURLError(err)
		// Do not print "giving up after 1 attempts" for permanent errors.
		if attempts > 1 {
			err = errors.Wrapf(err, "giving up after %d attempts", attempts)
		}
		return nil, err
	}
	return result, nil
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	// We retry on 500-range responses to allow the server time to recover.
	// This will catch invalid response codes as well, like 0 and 999.
	c := StatusCodeOf(err)
	return c == 0 || (c >= 500 && c != 501)
}

func unpackURLError(err error) error {
	if e, ok := err.(*url.Error); ok { // nolint: errorlint
		return e.Err
	}
	return err
}

// StatusCodeAndMessageOf returns HTTP status code and it's message carried
// by the error or it's cause.
// If not status can be found it returns 0.
func StatusCodeAndMessageOf(err error) (status int, message string) {
	cause := errors.Cause(err)
	switch v := cause.(type) { // nolint: errorlint
	case *runtime.APIError:
		return v.Code, fmt.Sprint(v.Response)
	case interface {
		GetPayload() *models.ErrorModel
	}:
		p := v.GetPayload()
		if p != nil {
			return int(p.Code), p.Message
		}
		if c, ok := v.(interface{ Code() int }); ok {
			return c.Code(), ""
		}
	case interface {
		Code() int
	}:
		return v.Code(), ""
	}

	return 0, ""
}

// StatusCodeOf returns HTTP status code carried by the error or it's cause.
// If not status can be found it returns 0.
func StatusCodeOf(err error) int {
	s, _ := StatusCodeAndMessageOf(err)
	return s
}
