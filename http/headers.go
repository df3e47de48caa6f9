package http

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/http/httpguts"
)

const (
	headerContentType = "Content-Type"
	headerUserAgent   = "User-Agent"
	headerHost        = "Host"
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// validateRequest checks the request before any attempt is made.
func validateRequest(req *Request) error {
	if err := requestValidator.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return NewValidationError(validationMessage(fe), fe.Field())
		}
		return NewValidationError(err.Error(), "")
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return NewValidationError(err.Error(), "URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return NewValidationError("URL must be absolute", "URL")
	}
	if port := u.Port(); port != "" {
		if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			return NewValidationError(fmt.Sprintf("invalid port %q", port), "URL")
		}
	}

	for _, line := range req.Headers {
		name, value := splitHeaderLine(line)
		if !httpguts.ValidHeaderFieldName(name) {
			return NewValidationError(fmt.Sprintf("invalid header name %q", name), "Headers")
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return NewValidationError(fmt.Sprintf("invalid value for header %q", name), "Headers")
		}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "contains":
		return fmt.Sprintf("%s must be a \"Name: Value\" line", fe.Field())
	default:
		return fmt.Sprintf("%s failed validation", fe.Field())
	}
}

// splitHeaderLine splits "Name: Value" and trims both parts.
func splitHeaderLine(line string) (name, value string) {
	name, value, _ = strings.Cut(line, ":")
	return strings.TrimSpace(name), strings.TrimSpace(value)
}

// applyHeaderLines applies caller header lines on top of the defaults already
// in h. The first line for a name replaces any default; later lines for the
// same name add values in order. A line with an empty value removes the header.
func applyHeaderLines(h nethttp.Header, lines []string) {
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		name, value := splitHeaderLine(line)
		key := nethttp.CanonicalHeaderKey(name)

		if value == "" {
			h.Del(key)
			if key == headerUserAgent {
				// present but empty stops net/http from sending its own agent
				h[key] = []string{""}
			}
			seen[key] = true
			continue
		}
		if !seen[key] || isRemoved(h, key) {
			h.Del(key)
		}
		seen[key] = true
		h.Add(key, value)
	}
}

// headerLineNames returns the canonical names of lines in order.
func headerLineNames(lines []string) []string {
	names := make([]string, len(lines))
	for i, line := range lines {
		name, _ := splitHeaderLine(line)
		names[i] = nethttp.CanonicalHeaderKey(name)
	}
	return names
}

func isRemoved(h nethttp.Header, key string) bool {
	v := h[key]
	return len(v) == 1 && v[0] == ""
}
