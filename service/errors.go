package service

import "fmt"

// CertificateError means the PKCS#12 material could not be turned into a
// usable key/certificate pair. It is fatal to session construction: the
// job aborts before any network call.
type CertificateError struct {
	Reason string
	Err    error
}

func (e *CertificateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certificate error: %s: %v", e.Reason, e.Err)
	}
	return "certificate error: " + e.Reason
}

func (e *CertificateError) Unwrap() error { return e.Err }

// TransportError covers TLS, connection and timeout failures. The
// requester does not retry these; they surface immediately.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitError means the upstream answered 429 on every one of the
// allowed attempts. Callers treat it as recoverable and apply loop-level
// pacing instead of failing the job.
type RateLimitError struct {
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts", e.Attempts)
}

// UpstreamError is any non-2xx, non-429 response. Recorded as a per-item
// failure; the fetch loop continues.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}
