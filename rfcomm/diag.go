package rfcomm

import "strings"

// ClassifyLog inspects bind diagnostics and returns the failure they describe.
func ClassifyLog(log string) Failure {
	if strings.Contains(strings.ToLower(log), "connection refused") {
		return FailureRefused
	}

	return FailureNone
}
