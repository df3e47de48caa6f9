package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/resilient-http/http/internal/tracking"
	"github.com/gaborage/resilient-http/retry"
	"github.com/gaborage/resilient-http/trace"
)

const tracerName = "resilient-http/http"

// attemptState belongs to one Execute call.
type attemptState struct {
	method     string
	url        string
	requestID  string
	callCount  int64
	attempts   int
	lastStatus int
	start      time.Time
}

// Get performs a GET request
func (c *client) Get(ctx context.Context, url string, headers ...string) Response {
	return c.Execute(ctx, Request{Method: MethodGet, URL: url, Headers: headers})
}

// Post performs a POST request
func (c *client) Post(ctx context.Context, url string, body []byte, headers ...string) Response {
	return c.Execute(ctx, Request{Method: MethodPost, URL: url, Body: body, Headers: headers})
}

// Put performs a PUT request
func (c *client) Put(ctx context.Context, url string, body []byte, headers ...string) Response {
	return c.Execute(ctx, Request{Method: MethodPut, URL: url, Body: body, Headers: headers})
}

// Delete performs a DELETE request
func (c *client) Delete(ctx context.Context, url string, headers ...string) Response {
	return c.Execute(ctx, Request{Method: MethodDelete, URL: url, Headers: headers})
}

// Execute runs the request, retrying transient failures per the retry
// policy. It blocks until the call succeeds, fails terminally, or ctx is done.
func (c *client) Execute(ctx context.Context, req Request) Response {
	if ctx == nil {
		ctx = context.Background()
	}
	call := &attemptState{
		method:    string(req.Method),
		url:       req.URL,
		requestID: trace.EnsureRequestID(ctx),
		callCount: atomic.AddInt64(&c.callCount, 1),
		start:     time.Now(),
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "HTTP "+call.method,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("http.request.method", call.method),
			attribute.String("url.full", call.url),
			attribute.String("http.request.id", call.requestID),
		))
	defer span.End()

	if c.closed.Load() {
		return c.fail(ctx, call, retry.NewFailureWithCode(retry.CodeClientClosed, retry.ErrClientClosed))
	}
	if err := validateRequest(&req); err != nil {
		return c.fail(ctx, call, retry.NewFailureWithCode(validationCode(err), err))
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.fail(ctx, call, retry.NewFailureWithCode(retry.CodeCanceled, err))
			}
		}
		call.attempts = attempt + 1

		c.logRequest(&req, call)
		outcome, header := c.perform(ctx, &req, call.requestID)
		if outcome.StatusCode != 0 {
			call.lastStatus = outcome.StatusCode
		}
		tracking.RecordAttempt(ctx, call.method, attemptOutcome(outcome))

		decision := c.policy.Decide(outcome, attempt)
		switch decision.Action {
		case retry.ActionSucceed:
			return c.succeed(ctx, call, outcome, header)
		case retry.ActionRetry:
			c.logRetry(call, outcome, decision)
			span.AddEvent("retry", oteltrace.WithAttributes(
				attribute.Int("attempt", call.attempts),
				attribute.String("retry.reason", decision.Reason),
				attribute.Int64("retry.delay_ms", decision.Delay.Milliseconds()),
			))
			tracking.RecordRetry(ctx, call.method, decision.Reason)
			if err := c.sleep(ctx, decision.Delay); err != nil {
				return c.fail(ctx, call, retry.NewFailureWithCode(retry.CodeCanceled, err))
			}
		default:
			if outcome.Failed() {
				return c.fail(ctx, call, outcome.Failure)
			}
			return c.failHTTP(ctx, call, outcome, header)
		}
	}
}

// perform issues one attempt. The response body is always drained and
// closed before returning.
func (c *client) perform(ctx context.Context, req *Request, requestID string) (retry.Outcome, nethttp.Header) {
	httpReq, err := c.buildRequest(ctx, req, requestID)
	if err != nil {
		var failure *retry.Failure
		if errors.As(err, &failure) {
			return retry.Outcome{Failure: failure}, nil
		}
		return retry.Outcome{Failure: retry.NewFailureWithCode(retry.CodeMalformedURL, err)}, nil
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		outcome := retry.TransportFailure(err)
		// a rejected redirect still reports the response that asked for it
		if httpResp != nil {
			outcome.StatusCode = httpResp.StatusCode
		}
		return outcome, nil
	}
	defer httpResp.Body.Close()

	for _, intercept := range c.responseInterceptors {
		if err := intercept(ctx, httpReq, httpResp); err != nil {
			return retry.Outcome{
				StatusCode: httpResp.StatusCode,
				Failure:    retry.NewFailureWithCode(retry.CodeInterceptor, fmt.Errorf("response interceptor: %w", err)),
			}, httpResp.Header
		}
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		code := retry.Classify(err)
		if !retry.IsRetryableTransportError(code) && code != retry.CodeCanceled {
			code = retry.CodeRecvFailed
		}
		return retry.Outcome{
			StatusCode: httpResp.StatusCode,
			Failure:    retry.NewFailureWithCode(code, fmt.Errorf("reading response body: %w", err)),
		}, httpResp.Header
	}

	return retry.HTTPResult(httpResp.StatusCode, body), httpResp.Header
}

// buildRequest constructs a fresh *http.Request for one attempt. Nothing is
// carried over from a previous attempt. Headers are layered as: built-in
// defaults, configured default headers, basic auth, then the caller's lines.
func (c *client) buildRequest(ctx context.Context, req *Request, requestID string) (*nethttp.Request, error) {
	var body io.Reader = nethttp.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, string(req.Method), req.URL, body)
	if err != nil {
		return nil, err
	}

	if c.config.UserAgent != "" {
		httpReq.Header.Set(headerUserAgent, c.config.UserAgent)
	}
	httpReq.Header.Set(trace.HeaderXRequestID, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	// an explicit traceparent from the caller wins over the active span
	if traceParent, ok := trace.TraceParentFromContext(ctx); ok {
		httpReq.Header.Set(trace.HeaderTraceParent, traceParent)
	}

	applyHeaderLines(httpReq.Header, c.config.DefaultHeaders)
	if auth := c.config.BasicAuth; auth != nil {
		httpReq.SetBasicAuth(auth.Username, auth.Password)
	}
	applyHeaderLines(httpReq.Header, req.Headers)

	// net/http writes Host from the request and ignores it in Header
	if host := httpReq.Header.Get(headerHost); host != "" {
		httpReq.Host = host
	}
	httpReq.Header.Del(headerHost)

	if len(req.Body) > 0 && c.config.ContentType != "" &&
		!hasHeaderLine(req.Headers, headerContentType) && !hasHeaderLine(c.config.DefaultHeaders, headerContentType) {
		httpReq.Header.Set(headerContentType, c.config.ContentType)
	}

	for _, intercept := range c.requestInterceptors {
		if err := intercept(ctx, httpReq); err != nil {
			return nil, retry.NewFailureWithCode(retry.CodeInterceptor, fmt.Errorf("request interceptor: %w", err))
		}
	}
	return httpReq, nil
}

func (c *client) succeed(ctx context.Context, call *attemptState, outcome retry.Outcome, header nethttp.Header) Response {
	resp := Response{
		StatusCode: outcome.StatusCode,
		Body:       string(outcome.Body),
		Success:    true,
		Headers:    header,
		Attempts:   call.attempts,
		Elapsed:    time.Since(call.start),
		RequestID:  call.requestID,
	}
	c.logResponse(call, &resp)
	endSpan(ctx, &resp)
	tracking.RecordRequest(ctx, call.method, resp.Elapsed, true)
	return resp
}

func (c *client) failHTTP(ctx context.Context, call *attemptState, outcome retry.Outcome, header nethttp.Header) Response {
	resp := Response{
		StatusCode:   outcome.StatusCode,
		Body:         string(outcome.Body),
		ErrorMessage: fmt.Sprintf("HTTP %d", outcome.StatusCode),
		Headers:      header,
		Attempts:     call.attempts,
		Elapsed:      time.Since(call.start),
		RequestID:    call.requestID,
	}
	c.logFailure(call, &resp)
	endSpan(ctx, &resp)
	tracking.RecordRequest(ctx, call.method, resp.Elapsed, false)
	return resp
}

// fail ends the call on a transport failure. StatusCode keeps the last status
// an earlier attempt obtained, or 0.
func (c *client) fail(ctx context.Context, call *attemptState, failure *retry.Failure) Response {
	resp := Response{
		StatusCode:   call.lastStatus,
		ErrorMessage: failure.Error(),
		Attempts:     call.attempts,
		Elapsed:      time.Since(call.start),
		RequestID:    call.requestID,
		Failure:      failure,
	}
	c.logFailure(call, &resp)
	endSpan(ctx, &resp)
	tracking.RecordRequest(ctx, call.method, resp.Elapsed, false)
	return resp
}

// logRequest logs the start of an attempt
func (c *client) logRequest(req *Request, call *attemptState) {
	logEvent := c.logger.Info().
		Str("direction", "outbound").
		Str("method", call.method).
		Str("url", call.url).
		Str("request_id", call.requestID).
		Int("attempt", call.attempts).
		Int("max_retries", c.policy.MaxRetries).
		Int64("call_count", call.callCount)

	// values stay out of the log; custom auth headers are not known to the filter
	if len(req.Headers) > 0 {
		logEvent.Interface("header_names", headerLineNames(req.Headers))
	}
	if len(req.Body) > 0 {
		logEvent.Int("body_size", len(req.Body))
	}

	logEvent.Msg("REST client request")
}

// logRetry logs a retry decision and the delay before the next attempt
func (c *client) logRetry(call *attemptState, outcome retry.Outcome, decision retry.Decision) {
	logEvent := c.logger.Warn().
		Str("method", call.method).
		Str("url", call.url).
		Str("request_id", call.requestID).
		Int("attempt", call.attempts).
		Int("max_retries", c.policy.MaxRetries).
		Str("reason", decision.Reason).
		Dur("delay", decision.Delay)

	if outcome.Failed() {
		logEvent.Str("error_code", string(outcome.Failure.Code)).Err(outcome.Failure)
	} else {
		logEvent.Int("status", outcome.StatusCode)
	}

	logEvent.Msg("REST client retrying request")
}

// logResponse logs the successful end of a call
func (c *client) logResponse(call *attemptState, resp *Response) {
	c.logger.Info().
		Str("direction", "inbound").
		Str("method", call.method).
		Str("url", call.url).
		Str("request_id", call.requestID).
		Int("status", resp.StatusCode).
		Int("attempts", resp.Attempts).
		Dur("elapsed", resp.Elapsed).
		Int64("call_count", call.callCount).
		Msg("REST client response")
}

// logFailure logs the terminal failure of a call
func (c *client) logFailure(call *attemptState, resp *Response) {
	logEvent := c.logger.Error().
		Str("method", call.method).
		Str("url", call.url).
		Str("request_id", call.requestID).
		Int("status", resp.StatusCode).
		Int("attempts", resp.Attempts).
		Dur("elapsed", resp.Elapsed)

	if resp.Failure != nil {
		logEvent.Str("error_code", string(resp.Failure.Code)).Err(resp.Failure)
	} else {
		logEvent.Str("error", resp.ErrorMessage)
	}

	logEvent.Msg("REST client request failed")
}

// endSpan records the final result on the call's span; the span itself is
// ended by Execute.
func endSpan(ctx context.Context, resp *Response) {
	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("http.request.attempts", resp.Attempts),
	)
	if resp.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if resp.Failure != nil {
		span.SetAttributes(attribute.String("error.type", string(resp.Failure.Code)))
	}
	if !resp.Success {
		span.SetStatus(codes.Error, resp.ErrorMessage)
	}
}

func attemptOutcome(o retry.Outcome) string {
	switch {
	case o.Failed():
		return tracking.OutcomeTransport
	case retry.IsSuccessStatus(o.StatusCode):
		return tracking.OutcomeSuccess
	default:
		return tracking.OutcomeHTTPError
	}
}

// validationCode maps a rejected request onto its transport code.
func validationCode(err error) retry.TransportErrorCode {
	var ve *validationError
	if errors.As(err, &ve) && ve.field == "URL" {
		return retry.CodeMalformedURL
	}
	return retry.CodeInvalidRequest
}

// hasHeaderLine reports whether the caller supplied a line for name,
// including an empty removal line.
func hasHeaderLine(lines []string, name string) bool {
	for _, line := range lines {
		n, _ := splitHeaderLine(line)
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// sleepContext waits for d unless ctx is done first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
