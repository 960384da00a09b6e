package service

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/Fullstackdeveloper4545/aws/config"
	"github.com/Fullstackdeveloper4545/aws/model"
)

var pemHeader = []byte("-----BEGIN")

// SecureSession is the mutual-TLS HTTP client for one job. It is built
// once per job, pinned to a single certificate bundle, and owns the
// temporary PEM files it decodes; Cleanup releases them exactly once.
type SecureSession struct {
	client   *http.Client
	bundle   *model.CertificateBundle
	tmpFiles []string
	once     sync.Once
}

// NewSession decodes the bundle's client certificate and builds a
// reusable HTTP client for the job. Certificate failures abort before
// any network call is made.
func NewSession(bundle *model.CertificateBundle, pacing config.PacingConfig) (*SecureSession, error) {
	certPEM, keyPEM, err := LoadKeyPair(bundle.ClientPFX, bundle.PFXPassword)
	if err != nil {
		return nil, err
	}

	clientCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &CertificateError{Reason: "decoded material is not a usable key pair", Err: err}
	}

	s := &SecureSession{bundle: bundle}

	// Keep the decoded material on disk for the lifetime of the job so
	// the external tool path and operators can inspect it. The files are
	// session-owned and removed by Cleanup.
	if err := s.stageTempFile("client-cert-*.pem", certPEM); err != nil {
		s.Cleanup()
		return nil, err
	}
	if err := s.stageTempFile("client-key-*.pem", keyPEM); err != nil {
		s.Cleanup()
		return nil, err
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		MinVersion:   tls.VersionTLS12,
	}

	switch {
	case bundle.SkipVerify:
		// Explicit opt-in only. Never the default.
		tlsCfg.InsecureSkipVerify = true
		slog.Warn("TLS verification disabled for session",
			"bundle", bundle.Name,
		)
	case len(bundle.ServerCert) > 0:
		if pool, anchorPEM := s.buildTrustPool(bundle.ServerCert); pool != nil {
			tlsCfg.RootCAs = pool
			if err := s.stageTempFile("trust-anchor-*.pem", anchorPEM); err != nil {
				s.Cleanup()
				return nil, err
			}
		}
	}

	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsCfg,
	}

	s.client = &http.Client{
		Timeout: time.Duration(pacing.RequestTimeoutSeconds) * time.Second,
		Transport: &retryTransport{
			next:    transport,
			retries: pacing.TransportRetries,
			backoff: time.Duration(pacing.TransportBackoffMillis) * time.Millisecond,
			sleep:   time.Sleep,
		},
	}

	return s, nil
}

// Client returns the HTTP client configured for this session.
func (s *SecureSession) Client() *http.Client { return s.client }

// Cleanup removes every temporary file the session created. Safe to call
// from any exit path; only the first call does work.
func (s *SecureSession) Cleanup() {
	s.once.Do(func() {
		for _, path := range s.tmpFiles {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to remove session temp file", "path", path, "error", err)
			}
		}
		name := ""
		if s.bundle != nil {
			name = s.bundle.Name
		}
		slog.Debug("session temp files released", "count", len(s.tmpFiles), "bundle", name)
	})
}

func (s *SecureSession) stageTempFile(pattern string, data []byte) error {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return fmt.Errorf("failed to create session temp file: %w", err)
	}
	s.tmpFiles = append(s.tmpFiles, f.Name())
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return fmt.Errorf("failed to restrict session temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write session temp file: %w", err)
	}
	return f.Close()
}

// buildTrustPool turns the bundle's trust anchor into a cert pool. Binary
// anchors are converted to PEM, best effort: on conversion failure the
// session degrades to system trust verification rather than pinning.
func (s *SecureSession) buildTrustPool(anchor []byte) (*x509.CertPool, []byte) {
	anchorPEM := anchor
	if !bytes.HasPrefix(bytes.TrimSpace(anchor), pemHeader) {
		var err error
		anchorPEM, err = nativeConverter{}.DERToPEM(anchor)
		if err != nil {
			if conv := newOpensslConverter(); conv.Available() {
				anchorPEM, err = conv.DERToPEM(anchor)
			}
		}
		if err != nil {
			slog.Warn("trust anchor conversion failed, falling back to system verification",
				"bundle", s.bundle.Name, "error", err,
			)
			return nil, nil
		}
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(anchorPEM) {
		slog.Warn("trust anchor not usable, falling back to system verification",
			"bundle", s.bundle.Name,
		)
		return nil, nil
	}
	return pool, anchorPEM
}

// retryTransport retries idempotent requests on 5xx responses and
// connection resets with a doubling backoff. 429 is deliberately left to
// the requester, which owns rate-limit pacing.
type retryTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
	sleep   func(time.Duration)
}

var retryStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.next.RoundTrip(req)
	}

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = t.next.RoundTrip(req)

		retryable := false
		if err != nil {
			retryable = errors.Is(err, syscall.ECONNRESET)
		} else if retryStatuses[resp.StatusCode] {
			retryable = true
		}

		if !retryable || attempt >= t.retries {
			return resp, err
		}

		if resp != nil {
			resp.Body.Close()
		}
		t.sleep(t.backoff << attempt)
	}
}
