package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/kbukum/registrykit/errors"
)

// TLSConfig is the client TLS section shared by the network-backed
// discovery sources (consul, etcd, redis).
type TLSConfig struct {
	// Enabled turns TLS on. The remaining fields are ignored when false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// CAFile is a PEM bundle used to verify the server.
	CAFile string `yaml:"ca_file" mapstructure:"ca_file"`

	// CertFile and KeyFile are the client certificate pair for mTLS.
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`

	ServerName string `yaml:"server_name" mapstructure:"server_name"`
	SkipVerify bool   `yaml:"skip_verify" mapstructure:"skip_verify"`

	// MinVersion is "1.2" or "1.3". Empty means 1.2.
	MinVersion string `yaml:"min_version" mapstructure:"min_version"`
}

var tlsVersions = map[string]uint16{
	"":    tls.VersionTLS12,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// IsEnabled reports whether c is non-nil and enabled.
func (c *TLSConfig) IsEnabled() bool {
	return c != nil && c.Enabled
}

// Validate checks that the section is consistent.
func (c *TLSConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if (c.CertFile != "") != (c.KeyFile != "") {
		return errors.InvalidConfig("tls", "cert_file and key_file must be set together")
	}
	if _, ok := tlsVersions[c.MinVersion]; !ok {
		return errors.InvalidConfig("tls.min_version", fmt.Sprintf("unsupported version %q", c.MinVersion))
	}
	return nil
}

// Build returns the *tls.Config for a client, or nil when TLS is disabled.
func (c *TLSConfig) Build() (*tls.Config, error) {
	if !c.IsEnabled() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	out := &tls.Config{
		InsecureSkipVerify: c.SkipVerify, //nolint:gosec // opt-in
		ServerName:         c.ServerName,
		MinVersion:         tlsVersions[c.MinVersion],
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, errors.InvalidConfig("tls.ca_file", err.Error()).WithCause(err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.InvalidConfig("tls.ca_file", "no certificates found")
		}
		out.RootCAs = pool
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, errors.InvalidConfig("tls.cert_file", err.Error()).WithCause(err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}
