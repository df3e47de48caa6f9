package retry

// Failure is a classified transport failure of one attempt.
type Failure struct {
	Code TransportErrorCode
	Err  error
}

// NewFailure classifies err and wraps it. It returns nil for a nil error.
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Code: Classify(err), Err: err}
}

// NewFailureWithCode wraps err under an explicit code.
func NewFailureWithCode(code TransportErrorCode, err error) *Failure {
	return &Failure{Code: code, Err: err}
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Code.Description() + ": " + f.Err.Error()
	}
	return f.Code.Description()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether the failure is transient.
func (f *Failure) Retryable() bool {
	return IsRetryableTransportError(f.Code)
}

// Outcome is the result of one low-level attempt: either a transport
// failure or an HTTP status with its body.
type Outcome struct {
	StatusCode int
	Body       []byte
	Failure    *Failure
}

// TransportFailure builds the outcome of an attempt that never produced a status.
func TransportFailure(err error) Outcome {
	return Outcome{Failure: NewFailure(err)}
}

// HTTPResult builds the outcome of an attempt that received a response.
func HTTPResult(status int, body []byte) Outcome {
	return Outcome{StatusCode: status, Body: body}
}

// Failed reports whether the attempt failed below the HTTP layer.
func (o Outcome) Failed() bool {
	return o.Failure != nil
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
