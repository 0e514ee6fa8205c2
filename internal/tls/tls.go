// Package tls builds the server TLS configuration for the status endpoint.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultValidFor = 365 * 24 * time.Hour

// Options selects the certificate pair and protocol floor.
type Options struct {
	CertFile     string
	KeyFile      string
	MinVersion   string // "1.2" or "1.3"; empty means 1.3
	AutoGenerate bool   // write a self-signed pair when both files are missing
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// ValidVersion reports whether ver names a supported protocol floor.
func ValidVersion(ver string) bool {
	_, err := parseTLSVersion(ver)
	return err == nil
}

func loadPair(certFile, keyFile string) (*tls.Certificate, error) {
	readCert, err := os.ReadFile(filepath.Clean(certFile))
	if err != nil {
		return nil, err
	}
	readKey, err := os.ReadFile(filepath.Clean(keyFile))
	if err != nil {
		return nil, err
	}
	certificate, err := tls.X509KeyPair(readCert, readKey)
	if err != nil {
		return nil, err
	}
	return &certificate, nil
}

// ServerConfig returns a TLS configuration that reloads the pair from disk on
// every handshake, so rotated certificates are picked up without a restart.
// The pair is loaded once up front to report problems at startup.
func ServerConfig(o Options) (*tls.Config, error) {
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, errors.New("TLS needs both a certificate and a key file")
	}
	minVer, err := parseTLSVersion(o.MinVersion)
	if err != nil {
		return nil, err
	}
	if o.AutoGenerate && !certificatesExist(o.CertFile, o.KeyFile) {
		if err := GenerateSelfSignedCert(CertConfig{
			CommonName:  "localhost",
			DNSNames:    []string{"localhost"},
			IPAddresses: []string{"127.0.0.1", "::1"},
			NotAfter:    time.Now().Add(defaultValidFor),
			CertPath:    o.CertFile,
			KeyPath:     o.KeyFile,
		}); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	if _, err := loadPair(o.CertFile, o.KeyFile); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	certFile, keyFile := o.CertFile, o.KeyFile
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadPair(certFile, keyFile)
		},
		MinVersion: minVer,
	}, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
