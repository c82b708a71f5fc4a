package run

import "strings"

// FailureClass categorizes a failed run for retry and remediation decisions.
type FailureClass string

const (
	FailureNone              FailureClass = "None"
	FailureAuthentication    FailureClass = "AuthenticationError"
	FailureRateLimitExceeded FailureClass = "RateLimitExceeded"
	FailureTimeout           FailureClass = "Timeout"
	FailureResourceExhausted FailureClass = "ResourceExhausted"
	FailureInvalidInput      FailureClass = "InvalidInput"
	FailureConfiguration     FailureClass = "ConfigurationError"
	FailureNetwork           FailureClass = "NetworkError"
	FailurePermissionDenied  FailureClass = "PermissionDenied"
	FailureNotFound          FailureClass = "NotFound"
	FailureInternal          FailureClass = "InternalError"
	FailureUnknown           FailureClass = "Unknown"
)

// Classification is the retry guidance attached to every completed run.
type Classification struct {
	Class               FailureClass `json:"class"`
	IsRetryable         bool         `json:"is_retryable"`
	SuggestedBackoffSec int          `json:"suggested_backoff_sec,omitempty"`
	RemediationHints    []string     `json:"remediation_hints,omitempty"`
}

// Classify maps an envelope outcome to a failure classification. Adapters may
// override via envelope metadata; this is the shared default mapping from
// (status, error text, exit code).
func Classify(status EnvelopeStatus, errText string, exitCode int) Classification {
	if status == EnvelopeSucceeded {
		return Classification{Class: FailureNone}
	}

	lower := strings.ToLower(errText)
	switch {
	case containsAny(lower, "unauthorized", "authentication", "invalid api key", "401"):
		return Classification{
			Class:            FailureAuthentication,
			RemediationHints: []string{"verify harness credentials", "refresh the API token"},
		}
	case containsAny(lower, "rate limit", "too many requests", "429"):
		return Classification{
			Class:               FailureRateLimitExceeded,
			IsRetryable:         true,
			SuggestedBackoffSec: 60,
			RemediationHints:    []string{"retry after backoff"},
		}
	case containsAny(lower, "timeout", "timed out", "deadline exceeded", "cancelled or exceeded"):
		return Classification{
			Class:               FailureTimeout,
			IsRetryable:         true,
			SuggestedBackoffSec: 30,
			RemediationHints:    []string{"increase timeout_sec", "retry the run"},
		}
	case containsAny(lower, "out of memory", "oom", "no space left", "disk quota"):
		return Classification{
			Class:            FailureResourceExhausted,
			RemediationHints: []string{"raise the sandbox memory limit"},
		}
	case containsAny(lower, "permission denied", "forbidden", "403"):
		return Classification{
			Class:            FailurePermissionDenied,
			RemediationHints: []string{"check repository access for the worker identity"},
		}
	case containsAny(lower, "not found", "no such", "404"):
		return Classification{Class: FailureNotFound}
	case containsAny(lower, "connection refused", "network", "dns", "tls", "connection reset"):
		return Classification{
			Class:               FailureNetwork,
			IsRetryable:         true,
			SuggestedBackoffSec: 15,
		}
	case containsAny(lower, "invalid input", "invalid argument", "bad request", "validation"):
		return Classification{Class: FailureInvalidInput}
	case containsAny(lower, "config", "missing required env"):
		return Classification{Class: FailureConfiguration}
	case exitCode > 0 || errText != "":
		return Classification{Class: FailureInternal}
	default:
		return Classification{Class: FailureUnknown}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
