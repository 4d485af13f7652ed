package handler

import (
	"errors"
	"fmt"
	"net/http"
)

// Severity is the log level a failure is reported at
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Log line prefixes, kept stable so failures can be grepped for
const (
	TagHTTPError = "http_error"
	TagUncaught  = "uncaught failure"
)

// Outcome is the reply status, log severity and log message derived from one failure
type Outcome struct {
	Status   int
	Severity Severity
	Message  string
}

// Classify maps a failure (a returned error or a recovered panic value) to an Outcome.
// Every value classifies: anything that is not an *HTTPError becomes a 500.
func Classify(failure any) Outcome {
	var description string

	switch f := failure.(type) {
	case error:
		var herr *HTTPError
		if errors.As(f, &herr) {
			return classifyHTTPError(herr, f.Error())
		}
		description = f.Error()
	case string:
		description = f
	case fmt.Stringer:
		description = f.String()
	default:
		description = fmt.Sprintf("%v", f)
	}

	return Outcome{
		Status:   http.StatusInternalServerError,
		Severity: SeverityError,
		Message: fmt.Sprintf("%s: http_status = %d ; description = %s",
			TagUncaught, http.StatusInternalServerError, description),
	}
}

func classifyHTTPError(herr *HTTPError, description string) Outcome {
	status := herr.Status
	severity := SeverityInfo
	if herr.Server {
		severity = SeverityError
	}

	// A status outside the protocol range is a bug in the caller, report it as ours
	if !validStatus(status) {
		status = http.StatusInternalServerError
		severity = SeverityError
	}

	return Outcome{
		Status:   status,
		Severity: severity,
		Message:  fmt.Sprintf("%s: http_status = %d ; description = %s", TagHTTPError, status, description),
	}
}
