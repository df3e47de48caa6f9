package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
)

// ErrTooManyRedirects is returned by redirect policies once the redirect cap is hit.
var ErrTooManyRedirects = errors.New("stopped after too many redirects")

// ErrClientClosed is reported for requests issued after the client was closed.
var ErrClientClosed = errors.New("client is closed")

// Classify maps an error returned by the Go HTTP transport to a
// TransportErrorCode. A nil error maps to CodeNone. Errors already wrapped
// in a *Failure keep their code.
//
// The checks run from most to least specific: a DNS failure that times out
// is still a resolve failure, a certificate that fails verification is not a
// generic TLS handshake error.
func Classify(err error) TransportErrorCode {
	if err == nil {
		return CodeNone
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Code
	}

	switch {
	case errors.Is(err, ErrTooManyRedirects):
		return CodeTooManyRedirects
	case errors.Is(err, ErrClientClosed):
		return CodeClientClosed
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeResolveFailed
	}

	// the dialer rejects a bad address before any connection is tried
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return CodeMalformedURL
	}

	if isCertificateError(err) {
		return CodeTLSVerifyFailed
	}

	if isTimeout(err) {
		return CodeTimedOut
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return CodeConnectFailed
		case "write":
			return CodeSendFailed
		case "read":
			return CodeRecvFailed
		}
	}

	if isTLSHandshakeError(err) {
		return CodeTLSConnectFailed
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CodeGotNothing
	}

	return classifyWithString(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isCertificateError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		unknownCA    x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		systemRoots  x509.SystemRootsError
		constraintEr x509.ConstraintViolationError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &systemRoots) ||
		errors.As(err, &constraintEr)
}

func isTLSHandshakeError(err error) bool {
	var (
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
	)
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) {
		return true
	}
	return strings.Contains(err.Error(), "tls: ")
}

// classifyWithString handles the transport errors that only exist as text.
func classifyWithString(err error) TransportErrorCode {
	s := err.Error()
	switch {
	case strings.Contains(s, "unsupported protocol scheme"):
		return CodeUnsupportedScheme
	case strings.Contains(s, "no Host in request URL"),
		strings.Contains(s, "invalid URL"),
		strings.Contains(s, "missing protocol scheme"):
		return CodeMalformedURL
	case strings.Contains(s, "server closed idle connection"),
		strings.Contains(s, "empty reply"):
		return CodeGotNothing
	case strings.Contains(s, "connection reset by peer"),
		strings.Contains(s, "broken pipe"):
		return CodeRecvFailed
	case strings.Contains(s, "connection refused"):
		return CodeConnectFailed
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return CodeMalformedURL
	}
	return CodeOther
}
