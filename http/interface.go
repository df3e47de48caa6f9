package http

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/resilient-http/retry"
)

// Method is one of the HTTP methods the client issues.
type Method string

const (
	MethodGet    Method = nethttp.MethodGet
	MethodPost   Method = nethttp.MethodPost
	MethodPut    Method = nethttp.MethodPut
	MethodDelete Method = nethttp.MethodDelete
)

// Client defines the resilient REST client interface. None of its calls
// return an error: the outcome of the call, including failures, is carried
// by the Response.
type Client interface {
	Execute(ctx context.Context, req Request) Response
	Get(ctx context.Context, url string, headers ...string) Response
	Post(ctx context.Context, url string, body []byte, headers ...string) Response
	Put(ctx context.Context, url string, body []byte, headers ...string) Response
	Delete(ctx context.Context, url string, headers ...string) Response
	// Close releases idle connections. Calls made after Close fail immediately.
	Close() error
}

// Request is an immutable description of one logical call. Every attempt is
// built from it afresh.
type Request struct {
	Method Method `validate:"required,oneof=GET POST PUT DELETE"`
	URL    string `validate:"required"`
	// Body is optional; nil and empty are both sent without a body.
	Body []byte
	// Headers are "Name: Value" lines. Order is kept per name and duplicates
	// are sent as repeated values. "Name:" with an empty value removes a
	// default header such as User-Agent.
	Headers []string `validate:"dive,contains=:"`
}

// Response is the normalized result of a call once retrying has stopped.
// Either Success is true and StatusCode is 2xx, or Success is false and
// ErrorMessage is non-empty.
type Response struct {
	// StatusCode of the final attempt, or the last status seen when the
	// final attempt failed in transport. 0 if no status was ever obtained.
	StatusCode   int
	Body         string
	ErrorMessage string
	Success      bool

	Headers   nethttp.Header
	Attempts  int
	Elapsed   time.Duration
	RequestID string
	// Failure is set when the call ended on a transport failure.
	Failure *retry.Failure
}

// RequestInterceptor runs on the request of every attempt right before it is
// sent. An error ends the call without sending that attempt.
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor runs on the response of every attempt before its body
// is read. An error ends the call with the attempt's status.
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// BasicAuth holds credentials sent with every attempt.
type BasicAuth struct {
	Username string
	Password string
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error
