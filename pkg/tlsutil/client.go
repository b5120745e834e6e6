package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Options describes how to reach an HTTPS endpoint.
type Options struct {
	// VerifySSL disables certificate verification when false.
	VerifySSL bool
	// CAFile, when set, replaces the system roots with the PEM bundle at this path.
	CAFile string
	// CertFile and KeyFile hold a client certificate for mutual TLS.
	CertFile string
	KeyFile  string
	Timeout  time.Duration
}

// TLSConfig builds the tls.Config described by opts. It returns nil when the
// defaults (system roots, no client certificate) apply.
func TLSConfig(opts Options) (*tls.Config, error) {
	certFile := strings.TrimSpace(opts.CertFile)
	keyFile := strings.TrimSpace(opts.KeyFile)
	caFile := strings.TrimSpace(opts.CAFile)

	if (certFile == "") != (keyFile == "") {
		return nil, fmt.Errorf("client certificate and key must be provided together")
	}

	if opts.VerifySSL && certFile == "" && caFile == "" {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if !opts.VerifySSL {
		cfg.InsecureSkipVerify = true
	} else if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle %s: %w", caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", caFile)
		}
		cfg.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// CreateHTTPClient creates an HTTP client with appropriate TLS configuration
func CreateHTTPClient(opts Options) (*http.Client, error) {
	tlsConfig, err := TLSConfig(opts)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		DialContext:           DialContextWithCache,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
