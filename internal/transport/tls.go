package transport

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"

	"github.com/datim/adx-mediator/internal/errs"
)

// loadTLSConfig builds the client TLS config from PEM files. The credential
// set is loaded once and shared by every request made through the client.
func loadTLSConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // only for self-signed control-planes
	}

	keyFile := strings.TrimSpace(opts.KeyFile)
	certFile := strings.TrimSpace(opts.CertFile)
	if keyFile != "" || certFile != "" {
		pair, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, errs.Config(err, "load client key pair", map[string]any{"cert": certFile, "key": keyFile})
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	if caFile := strings.TrimSpace(opts.CAFile); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errs.Config(err, "read CA bundle", map[string]any{"ca": caFile})
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errs.Config(nil, "CA bundle contains no certificates", map[string]any{"ca": caFile})
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// HasClientCertificate reports whether opts name a key pair.
func (o Options) HasClientCertificate() bool {
	return strings.TrimSpace(o.KeyFile) != "" || strings.TrimSpace(o.CertFile) != ""
}
