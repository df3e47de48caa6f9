package retry

// TransportErrorCode classifies a failure that happened below the HTTP layer.
type TransportErrorCode string

const (
	// CodeNone marks the absence of a transport failure
	CodeNone TransportErrorCode = ""

	CodeConnectFailed    TransportErrorCode = "connect-failed"
	CodeResolveFailed    TransportErrorCode = "resolve-failed"
	CodeTimedOut         TransportErrorCode = "timed-out"
	CodeTLSConnectFailed TransportErrorCode = "tls-connect-failed"
	CodeGotNothing       TransportErrorCode = "got-nothing"
	CodeSendFailed       TransportErrorCode = "send-failed"
	CodeRecvFailed       TransportErrorCode = "recv-failed"

	CodeMalformedURL      TransportErrorCode = "malformed-url"
	CodeUnsupportedScheme TransportErrorCode = "unsupported-scheme"
	CodeTooManyRedirects  TransportErrorCode = "too-many-redirects"
	CodeTLSVerifyFailed   TransportErrorCode = "tls-verify-failed"
	CodeInvalidRequest    TransportErrorCode = "invalid-request"
	CodeInterceptor       TransportErrorCode = "interceptor-failed"
	CodeCanceled          TransportErrorCode = "canceled"
	CodeClientClosed      TransportErrorCode = "client-closed"
	CodeOther             TransportErrorCode = "other"
)

var descriptions = map[TransportErrorCode]string{
	CodeConnectFailed:     "could not connect to server",
	CodeResolveFailed:     "could not resolve host name",
	CodeTimedOut:          "operation timed out",
	CodeTLSConnectFailed:  "TLS connect error",
	CodeGotNothing:        "server returned nothing",
	CodeSendFailed:        "failed sending data to the peer",
	CodeRecvFailed:        "failure when receiving data from the peer",
	CodeMalformedURL:      "URL using bad/illegal format",
	CodeUnsupportedScheme: "unsupported protocol",
	CodeTooManyRedirects:  "number of redirects hit maximum amount",
	CodeTLSVerifyFailed:   "TLS peer certificate verification failed",
	CodeInvalidRequest:    "invalid request",
	CodeInterceptor:       "interceptor rejected the exchange",
	CodeCanceled:          "request canceled",
	CodeClientClosed:      "client closed",
	CodeOther:             "transport error",
}

// Description returns a short human-readable text for the code.
func (c TransportErrorCode) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	if c == CodeNone {
		return "no error"
	}
	return string(c)
}

func (c TransportErrorCode) String() string {
	return string(c)
}

// IsRetryableTransportError reports whether a failure with this code is
// transient and worth another attempt.
func IsRetryableTransportError(code TransportErrorCode) bool {
	switch code {
	case CodeConnectFailed,
		CodeResolveFailed,
		CodeTimedOut,
		CodeTLSConnectFailed,
		CodeGotNothing,
		CodeSendFailed,
		CodeRecvFailed:
		return true
	default:
		return false
	}
}
