package service

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// Overridable in tests.
var (
	pkcs12ToPEM = pkcs12.ToPEM
	lookPath    = exec.LookPath
	runCommand  = func(name string, stdin []byte, args ...string) ([]byte, error) {
		cmd := exec.Command(name, args...)
		cmd.Stdin = bytes.NewReader(stdin)
		var out, errBuf bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &errBuf
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("%s: %w (%s)", name, err, strings.TrimSpace(errBuf.String()))
		}
		return out.Bytes(), nil
	}
)

// CertificateConverter extracts key/certificate material from vendor
// bundle formats. Two implementations exist: the in-process decoder and
// the openssl fallback for bundles the native path cannot parse.
type CertificateConverter interface {
	// PFXToPEM decodes a PKCS#12 bundle into certificate and key PEM.
	PFXToPEM(pfxData []byte, password string) (certPEM, keyPEM []byte, err error)
	// DERToPEM re-encodes a binary certificate as PEM.
	DERToPEM(der []byte) ([]byte, error)
	// Available reports whether this converter can run on the host.
	Available() bool
}

type nativeConverter struct{}

func (nativeConverter) Available() bool { return true }

func (nativeConverter) PFXToPEM(pfxData []byte, password string) ([]byte, []byte, error) {
	blocks, err := pkcs12ToPEM(pfxData, password)
	if err != nil {
		return nil, nil, fmt.Errorf("pkcs12 decode failed: %w", err)
	}
	return splitPEMBlocks(blocks)
}

func (nativeConverter) DERToPEM(der []byte) ([]byte, error) {
	if _, err := x509.ParseCertificate(der); err != nil {
		return nil, fmt.Errorf("not a DER certificate: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

type opensslConverter struct {
	bin string
}

func newOpensslConverter() *opensslConverter {
	bin, err := lookPath("openssl")
	if err != nil {
		return &opensslConverter{}
	}
	return &opensslConverter{bin: bin}
}

func (c *opensslConverter) Available() bool { return c.bin != "" }

func (c *opensslConverter) PFXToPEM(pfxData []byte, password string) ([]byte, []byte, error) {
	if c.bin == "" {
		return nil, nil, errors.New("openssl not available on host")
	}

	tmp, err := os.CreateTemp("", "bundle-*.pfx")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stage pfx: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(pfxData); err != nil {
		tmp.Close()
		return nil, nil, fmt.Errorf("failed to stage pfx: %w", err)
	}
	tmp.Close()

	out, err := runCommand(c.bin, nil,
		"pkcs12", "-in", tmp.Name(), "-nodes", "-passin", "pass:"+password)
	if err != nil {
		return nil, nil, fmt.Errorf("openssl pkcs12 failed: %w", err)
	}

	var blocks []*pem.Block
	rest := out
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		blocks = append(blocks, block)
	}
	if len(blocks) == 0 {
		return nil, nil, errors.New("openssl produced no PEM blocks")
	}
	return splitPEMBlocks(blocks)
}

func (c *opensslConverter) DERToPEM(der []byte) ([]byte, error) {
	if c.bin == "" {
		return nil, errors.New("openssl not available on host")
	}
	out, err := runCommand(c.bin, der, "x509", "-inform", "DER", "-outform", "PEM")
	if err != nil {
		return nil, fmt.Errorf("openssl x509 failed: %w", err)
	}
	return out, nil
}

// splitPEMBlocks separates decoded PEM blocks into certificate material
// and the first private key found.
func splitPEMBlocks(blocks []*pem.Block) ([]byte, []byte, error) {
	var certPEM, keyPEM bytes.Buffer
	for _, block := range blocks {
		switch {
		case block.Type == "CERTIFICATE":
			pem.Encode(&certPEM, block)
		case strings.HasSuffix(block.Type, "PRIVATE KEY") && keyPEM.Len() == 0:
			pem.Encode(&keyPEM, block)
		}
	}
	if certPEM.Len() == 0 {
		return nil, nil, errors.New("bundle contains no certificate")
	}
	if keyPEM.Len() == 0 {
		return nil, nil, errors.New("bundle contains no private key")
	}
	return certPEM.Bytes(), keyPEM.Bytes(), nil
}

// LoadKeyPair decodes a PKCS#12 bundle into certificate and key PEM. The
// passphrase is trimmed; an empty result means "no passphrase", and a
// passphrased decode that fails is retried without one before giving up.
// When the native decoder cannot parse the bundle the openssl fallback
// runs if present; a CertificateError chains every cause.
func LoadKeyPair(pfxData []byte, passphrase string) ([]byte, []byte, error) {
	password := strings.TrimSpace(passphrase)

	converters := []CertificateConverter{nativeConverter{}, newOpensslConverter()}

	var causes []error
	for _, conv := range converters {
		if !conv.Available() {
			causes = append(causes, errors.New("external converter not available"))
			continue
		}
		certPEM, keyPEM, err := conv.PFXToPEM(pfxData, password)
		if err == nil {
			return certPEM, keyPEM, nil
		}
		causes = append(causes, err)

		if password != "" {
			certPEM, keyPEM, err = conv.PFXToPEM(pfxData, "")
			if err == nil {
				return certPEM, keyPEM, nil
			}
			causes = append(causes, err)
		}
	}

	return nil, nil, &CertificateError{
		Reason: "failed to decode PKCS#12 bundle",
		Err:    errors.Join(causes...),
	}
}
