package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/resilient-http/http/internal/tracking"
	"github.com/gaborage/resilient-http/logger"
	obtest "github.com/gaborage/resilient-http/observability/testing"
	"github.com/gaborage/resilient-http/retry"
	"github.com/gaborage/resilient-http/trace"
)

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	server, hits := newSequenceServer(t, 503, 503, 200)
	defer server.Close()

	c, sleeper := newTestClient(t, NewBuilder(logger.Nop()).WithRetries(3, time.Second, 10*time.Second))

	resp := c.Get(context.Background(), server.URL)

	assert.True(t, resp.Success)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.ErrorMessage)
	assert.Equal(t, `{"attempt":3}`, resp.Body)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.recorded())
	assert.Nil(t, resp.Failure)
	assert.NoError(t, resp.Err())
}

func TestExecuteBackoffWithRandomJitter(t *testing.T) {
	server, _ := newSequenceServer(t, 503, 503, 200)
	defer server.Close()

	sleeper := &recordingSleeper{}
	c, err := NewBuilder(logger.Nop()).WithSleeper(sleeper.sleep).Build()
	require.NoError(t, err)
	defer c.Close()

	resp := c.Get(context.Background(), server.URL)
	require.True(t, resp.Success)

	delays := sleeper.recorded()
	require.Len(t, delays, 2)
	assert.GreaterOrEqual(t, delays[0], 500*time.Millisecond)
	assert.Less(t, delays[0], 1500*time.Millisecond)
	assert.GreaterOrEqual(t, delays[1], time.Second)
	assert.Less(t, delays[1], 3*time.Second)
}

func TestExecuteSucceedsOnFirstSuccessStatus(t *testing.T) {
	for _, status := range []int{200, 201, 202, 204, 299} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			server, hits := newSequenceServer(t, status)
			defer server.Close()

			for _, maxRetries := range []int{0, 3} {
				c, sleeper := newTestClient(t, NewBuilder(logger.Nop()).WithRetries(maxRetries, time.Second, 10*time.Second))
				hits.Store(0)

				resp := c.Get(context.Background(), server.URL)

				assert.True(t, resp.Success)
				assert.Equal(t, status, resp.StatusCode)
				assert.Equal(t, 1, resp.Attempts)
				assert.Equal(t, int32(1), hits.Load())
				assert.Empty(t, sleeper.recorded())
			}
		})
	}
}

func TestExecuteNonRetryableStatusFailsFast(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 409, 422} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			server, hits := newSequenceServer(t, status)
			defer server.Close()

			c, sleeper := newTestClient(t, NewBuilder(logger.Nop()))

			resp := c.Get(context.Background(), server.URL)

			assert.False(t, resp.Success)
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, fmt.Sprintf("HTTP %d", status), resp.ErrorMessage)
			assert.Equal(t, `{"attempt":1}`, resp.Body)
			assert.Equal(t, 1, resp.Attempts)
			assert.Equal(t, int32(1), hits.Load())
			assert.Empty(t, sleeper.recorded())
			assert.Nil(t, resp.Failure)

			err := resp.Err()
			require.Error(t, err)
			assert.True(t, IsErrorType(err, HTTPError))
			assert.True(t, IsHTTPStatusError(err, status))
		})
	}
}

func TestExecuteRetryableStatusExhaustsRetries(t *testing.T) {
	for _, status := range []int{500, 502, 503, 504, 429} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			server, hits := newSequenceServer(t, status)
			defer server.Close()

			c, sleeper := newTestClient(t, NewBuilder(logger.Nop()).WithRetries(3, time.Second, 10*time.Second))

			resp := c.Get(context.Background(), server.URL)

			assert.False(t, resp.Success)
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, fmt.Sprintf("HTTP %d", status), resp.ErrorMessage)
			assert.Equal(t, `{"attempt":4}`, resp.Body, "body of the final attempt")
			assert.Equal(t, 4, resp.Attempts)
			assert.Equal(t, int32(4), hits.Load())
			assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.recorded())
		})
	}
}

func TestExecuteZeroRetries(t *testing.T) {
	server, hits := newSequenceServer(t, 503)
	defer server.Close()

	c, sleeper := newTestClient(t, NewBuilder(logger.Nop()).WithRetries(0, time.Second, time.Second))

	resp := c.Get(context.Background(), server.URL)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, sleeper.recorded())
}

func TestExecuteResolveFailure(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripperFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
		calls.Add(1)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: req.URL.Hostname(), IsNotFound: true}}
	})

	c, sleeper := newTestClient(t, NewBuilder(logger.Nop()).WithTransport(transport))

	resp := c.Get(context.Background(), "https://nonexistent.invalid/posts/1")

	assert.False(t, resp.Success)
	assert.Zero(t, resp.StatusCode)
	assert.NotEmpty(t, resp.ErrorMessage)
	assert.Contains(t, resp.ErrorMessage, "could not resolve host name")
	require.NotNil(t, resp.Failure)
	assert.Equal(t, retry.CodeResolveFailed, resp.Failure.Code)
	assert.Equal(t, 4, resp.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	assert.Len(t, sleeper.recorded(), 3)

	err := resp.Err()
	assert.True(t, IsErrorType(err, TransportError))
	assert.True(t, IsTransportCode(err, retry.CodeResolveFailed))
}

func TestExecuteConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: unable to bind IPv4 listener: %v", err)
	}
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	c, sleeper := newTestClient(t, NewBuilder(logger.Nop()).WithRetries(2, time.Second, 10*time.Second))

	resp := c.Get(context.Background(), "http://"+addr+"/posts/1")

	assert.False(t, resp.Success)
	assert.Zero(t, resp.StatusCode)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, retry.CodeConnectFailed, resp.Failure.Code)
	assert.Equal(t, 3, resp.Attempts)
	assert.Len(t, sleeper.recorded(), 2)
}

func TestExecuteReportsLastKnownStatusOnTransportFailure(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripperFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
		if calls.Add(1) == 1 {
			return &nethttp.Response{
				StatusCode: nethttp.StatusServiceUnavailable,
				Body:       io.NopCloser(strings.NewReader("busy")),
				Header:     nethttp.Header{},
				Request:    req,
			}, nil
		}
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	})

	c, _ := newTestClient(t, NewBuilder(logger.Nop()).WithTransport(transport).WithRetries(1, time.Second, time.Second))

	resp := c.Get(context.Background(), "https://api.example.com/posts")

	assert.False(t, resp.Success)
	assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.ErrorMessage)
	assert.Empty(t, resp.Body)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, retry.CodeConnectFailed, resp.Failure.Code)
	assert.Equal(t, 2, resp.Attempts)
}

func TestExecuteTruncatedBodyIsRetried(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripperFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
		body := io.NopCloser(strings.NewReader(`{"id":1}`))
		if calls.Add(1) == 1 {
			body = io.NopCloser(io.MultiReader(strings.NewReader(`{"id"`), errReader{io.ErrUnexpectedEOF}))
		}
		return &nethttp.Response{StatusCode: 200, Body: body, Header: nethttp.Header{}, Request: req}, nil
	})

	c, sleeper := newTestClient(t, NewBuilder(logger.Nop()).WithTransport(transport))

	resp := c.Get(context.Background(), "https://api.example.com/posts/1")

	assert.True(t, resp.Success)
	assert.Equal(t, `{"id":1}`, resp.Body)
	assert.Equal(t, 2, resp.Attempts)
	assert.Len(t, sleeper.recorded(), 1)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestExecutePerAttemptTimeout(t *testing.T) {
	server := newIPv4TestServer(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	c, sleeper := newTestClient(t, NewBuilder(logger.Nop()).
		WithTimeout(50*time.Millisecond).
		WithRetries(1, time.Millisecond, time.Millisecond))

	resp := c.Get(context.Background(), server.URL)

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, retry.CodeTimedOut, resp.Failure.Code)
	assert.Equal(t, 2, resp.Attempts)
	assert.Len(t, sleeper.recorded(), 1)
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripperFunc(func(_ *nethttp.Request) (*nethttp.Response, error) {
		calls.Add(1)
		return nil, errors.New("must not be called")
	})
	c, _ := newTestClient(t, NewBuilder(logger.Nop()).WithTransport(transport))

	tests := []struct {
		name string
		req  Request
		code retry.TransportErrorCode
	}{
		{name: "unsupported method", req: Request{Method: "PATCH", URL: "https://api.example.com"}, code: retry.CodeInvalidRequest},
		{name: "missing method", req: Request{URL: "https://api.example.com"}, code: retry.CodeInvalidRequest},
		{name: "missing url", req: Request{Method: MethodGet}, code: retry.CodeMalformedURL},
		{name: "unparseable url", req: Request{Method: MethodGet, URL: "http://[::1"}, code: retry.CodeMalformedURL},
		{name: "relative url", req: Request{Method: MethodGet, URL: "/posts/1"}, code: retry.CodeMalformedURL},
		{name: "port out of range", req: Request{Method: MethodGet, URL: "http://127.0.0.1:99999/posts/1"}, code: retry.CodeMalformedURL},
		{name: "header without colon", req: Request{Method: MethodGet, URL: "https://api.example.com", Headers: []string{"Accept"}}, code: retry.CodeInvalidRequest},
		{name: "header with bad name", req: Request{Method: MethodGet, URL: "https://api.example.com", Headers: []string{"Bad Name: x"}}, code: retry.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.Execute(context.Background(), tt.req)

			assert.False(t, resp.Success)
			assert.Zero(t, resp.StatusCode)
			assert.Zero(t, resp.Attempts)
			assert.NotEmpty(t, resp.ErrorMessage)
			require.NotNil(t, resp.Failure)
			assert.Equal(t, tt.code, resp.Failure.Code)
			assert.False(t, resp.Failure.Retryable())
		})
	}
	assert.Zero(t, calls.Load())

	resp := c.Execute(context.Background(), Request{Method: "PATCH", URL: "https://api.example.com"})
	assert.True(t, IsErrorType(resp.Err(), ValidationError))
}

func TestExecuteUnsupportedScheme(t *testing.T) {
	c, sleeper := newTestClient(t, NewBuilder(logger.Nop()))

	resp := c.Get(context.Background(), "ftp://files.example.com/readme")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, retry.CodeUnsupportedScheme, resp.Failure.Code)
	assert.Equal(t, 1, resp.Attempts)
	assert.Empty(t, sleeper.recorded())
}

func TestExecuteRedirects(t *testing.T) {
	var hits atomic.Int32
	server := newIPv4TestServer(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		n := hits.Add(1)
		if r.URL.Path == "/final" {
			w.WriteHeader(nethttp.StatusOK)
			return
		}
		var hop int
		fmt.Sscanf(r.URL.Path, "/hop/%d", &hop)
		if r.URL.Query().Get("stop") != "" && hop >= 2 {
			nethttp.Redirect(w, r, "/final", nethttp.StatusFound)
			return
		}
		nethttp.Redirect(w, r, fmt.Sprintf("/hop/%d?%s", n, r.URL.RawQuery), nethttp.StatusFound)
	}))
	defer server.Close()

	t.Run("redirects within the cap are followed", func(t *testing.T) {
		hits.Store(0)
		c, _ := newTestClient(t, NewBuilder(logger.Nop()))

		resp := c.Get(context.Background(), server.URL+"/hop/0?stop=1")

		assert.True(t, resp.Success)
		assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(4), hits.Load())
	})

	t.Run("redirect loop hits the cap without retry", func(t *testing.T) {
		hits.Store(0)
		c, sleeper := newTestClient(t, NewBuilder(logger.Nop()))

		resp := c.Get(context.Background(), server.URL+"/hop/0")

		assert.False(t, resp.Success)
		require.NotNil(t, resp.Failure)
		assert.Equal(t, retry.CodeTooManyRedirects, resp.Failure.Code)
		assert.Equal(t, nethttp.StatusFound, resp.StatusCode, "status of the rejected redirect")
		assert.Equal(t, 1, resp.Attempts)
		assert.Equal(t, int32(DefaultMaxRedirects+1), hits.Load())
		assert.Empty(t, sleeper.recorded())
	})

	t.Run("zero redirects allowed", func(t *testing.T) {
		hits.Store(0)
		c, _ := newTestClient(t, NewBuilder(logger.Nop()).WithMaxRedirects(0))

		resp := c.Get(context.Background(), server.URL+"/hop/0")

		require.NotNil(t, resp.Failure)
		assert.Equal(t, retry.CodeTooManyRedirects, resp.Failure.Code)
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestExecuteCancellation(t *testing.T) {
	t.Run("canceled during backoff", func(t *testing.T) {
		server, hits := newSequenceServer(t, 503)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c, err := NewBuilder(logger.Nop()).
			WithSleeper(func(ctx context.Context, d time.Duration) error {
				cancel()
				return sleepContext(ctx, d)
			}).
			Build()
		require.NoError(t, err)
		defer c.Close()

		resp := c.Get(ctx, server.URL)

		assert.False(t, resp.Success)
		require.NotNil(t, resp.Failure)
		assert.Equal(t, retry.CodeCanceled, resp.Failure.Code)
		assert.ErrorIs(t, resp.Failure, context.Canceled)
		assert.Equal(t, nethttp.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, 1, resp.Attempts)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("canceled before the first attempt", func(t *testing.T) {
		server, hits := newSequenceServer(t, 200)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c, sleeper := newTestClient(t, NewBuilder(logger.Nop()))
		resp := c.Get(ctx, server.URL)

		assert.False(t, resp.Success)
		require.NotNil(t, resp.Failure)
		assert.Equal(t, retry.CodeCanceled, resp.Failure.Code)
		assert.Equal(t, 1, resp.Attempts)
		assert.Zero(t, hits.Load())
		assert.Empty(t, sleeper.recorded())
	})

	t.Run("real sleeper honours deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := sleepContext(ctx, time.Minute)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 10*time.Second)

		assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
		assert.NoError(t, sleepContext(context.Background(), 0))
	})
}

func TestExecuteRateLimit(t *testing.T) {
	server, hits := newSequenceServer(t, 200)
	defer server.Close()

	c, _ := newTestClient(t, NewBuilder(logger.Nop()).WithRateLimit(1000, 1))
	assert.True(t, c.Get(context.Background(), server.URL).Success)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := c.Get(ctx, server.URL)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, retry.CodeCanceled, resp.Failure.Code)
	assert.Zero(t, resp.Attempts, "no attempt is issued while waiting for the limiter")
	assert.Equal(t, int32(1), hits.Load())
}

func TestExecuteRequestID(t *testing.T) {
	var (
		mu           sync.Mutex
		seen         []string
		traceParents []string
	)
	server := newIPv4TestServer(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Header.Get(trace.HeaderXRequestID))
		traceParents = append(traceParents, r.Header.Get(trace.HeaderTraceParent))
		if len(seen) < 3 {
			w.WriteHeader(nethttp.StatusBadGateway)
			return
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	t.Run("generated and stable across attempts", func(t *testing.T) {
		mu.Lock()
		seen = nil
		mu.Unlock()
		c, _ := newTestClient(t, NewBuilder(logger.Nop()))

		resp := c.Get(context.Background(), server.URL)
		require.True(t, resp.Success)
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, seen, 3)
		assert.NotEmpty(t, seen[0])
		assert.Equal(t, seen[0], seen[1])
		assert.Equal(t, seen[0], seen[2])
		assert.Equal(t, seen[0], resp.RequestID)
	})

	t.Run("taken from context", func(t *testing.T) {
		mu.Lock()
		seen, traceParents = nil, nil
		mu.Unlock()
		c, _ := newTestClient(t, NewBuilder(logger.Nop()))

		ctx := trace.WithRequestID(context.Background(), "req-from-ctx")
		ctx = trace.WithTraceParent(ctx, "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")

		resp := c.Get(ctx, server.URL)
		require.True(t, resp.Success)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"req-from-ctx", "req-from-ctx", "req-from-ctx"}, seen)
		assert.Equal(t, "req-from-ctx", resp.RequestID)
		assert.Equal(t, "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01", traceParents[0])
	})
}

func TestExecuteRecordsMetrics(t *testing.T) {
	tracking.ResetForTesting()
	mp := obtest.InstallMeterProvider(t)
	t.Cleanup(tracking.ResetForTesting)

	server, _ := newSequenceServer(t, 503, 200)
	defer server.Close()

	c, _ := newTestClient(t, NewBuilder(logger.Nop()))
	require.True(t, c.Get(context.Background(), server.URL).Success)

	rm := mp.Collect(t)
	assert.Equal(t, int64(2), obtest.SumInt64(rm, "http.client.attempts"))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, "http.client.attempts", attribute.String("outcome", tracking.OutcomeHTTPError)))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, "http.client.attempts", attribute.String("outcome", tracking.OutcomeSuccess)))
	assert.Equal(t, int64(1), obtest.SumInt64(rm, "http.client.retries", attribute.String("retry.reason", "http_status")))
	assert.Equal(t, uint64(1), obtest.HistogramCount(rm, "http.client.request.duration", attribute.Bool("success", true)))
}

func TestExecuteRecordsSpan(t *testing.T) {
	tp := obtest.InstallTraceProvider(t)

	var mu sync.Mutex
	var traceParents []string
	statuses := []int{nethttp.StatusServiceUnavailable, nethttp.StatusOK}
	server := newIPv4TestServer(t, nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		mu.Lock()
		traceParents = append(traceParents, r.Header.Get(trace.HeaderTraceParent))
		n := len(traceParents)
		mu.Unlock()
		w.WriteHeader(statuses[min(n, len(statuses))-1])
	}))
	defer server.Close()

	c, _ := newTestClient(t, NewBuilder(logger.Nop()))

	t.Run("success after retry", func(t *testing.T) {
		resp := c.Get(context.Background(), server.URL)
		require.True(t, resp.Success)

		span := obtest.NewSpanCollector(t, tp.Exporter).WithName("HTTP GET").AssertCount(1).First()
		assert.Equal(t, oteltrace.SpanKindClient, span.SpanKind)
		obtest.AssertSpanAttribute(t, &span, "http.request.method", "GET")
		obtest.AssertSpanAttribute(t, &span, "http.request.attempts", 2)
		obtest.AssertSpanAttribute(t, &span, "http.response.status_code", 200)
		obtest.AssertSpanAttribute(t, &span, "http.request.id", resp.RequestID)
		require.Len(t, span.Events, 1)
		assert.Equal(t, "retry", span.Events[0].Name)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, traceParents, 2)
		assert.Contains(t, traceParents[0], span.SpanContext.TraceID().String())
		assert.Equal(t, traceParents[0], traceParents[1])
	})

	t.Run("failure marks the span", func(t *testing.T) {
		tp.Exporter.Reset()
		resp := c.Execute(context.Background(), Request{Method: "PATCH", URL: server.URL})
		require.False(t, resp.Success)

		span := obtest.NewSpanCollector(t, tp.Exporter).WithName("HTTP PATCH").AssertCount(1).First()
		obtest.AssertSpanStatus(t, &span, codes.Error)
		obtest.AssertSpanAttribute(t, &span, "error.type", string(retry.CodeInvalidRequest))
	})
}
