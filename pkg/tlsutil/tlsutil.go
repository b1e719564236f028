// Package tlsutil builds crypto/tls configurations for the network actions
// from their JSON parameters.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/watchpost/errors"
)

// ClientConfig holds TLS parameters for outbound connections. The system CA
// bundle is always trusted; CAFiles add to it.
type ClientConfig struct {
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // testing only
	MinVersion         string   `json:"min_version,omitempty"`
	ServerName         string   `json:"server_name,omitempty"`

	// Client certificate for mutual TLS. Both or neither.
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Validate checks field combinations without touching the filesystem.
func (c ClientConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("unsupported min_version %q", c.MinVersion)
	}
	return nil
}

// IsZero reports whether no TLS option is set.
func (c ClientConfig) IsZero() bool {
	return len(c.CAFiles) == 0 && !c.InsecureSkipVerify && c.MinVersion == "" &&
		c.ServerName == "" && c.CertFile == "" && c.KeyFile == ""
}

// LoadClientConfig creates a tls.Config for outbound connections.
// defaultServerName is used when cfg.ServerName is empty.
func LoadClientConfig(cfg ClientConfig, defaultServerName string) (*tls.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "tlsutil", "LoadClientConfig", "validate")
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
		ServerName: cfg.ServerName,
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = defaultServerName
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendCAFiles(rootCAs, cfg.CAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load CA files")
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// ServerConfig holds TLS parameters for listeners.
type ServerConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"`

	// ClientCAFiles turns on client certificate verification.
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`
}

// Validate checks that an enabled config names its key pair.
func (c ServerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file are required when tls is enabled")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("unsupported min_version %q", c.MinVersion)
	}
	if c.RequireClientCert && len(c.ClientCAFiles) == 0 {
		return fmt.Errorf("require_client_cert needs client_ca_files")
	}
	return nil
}

// LoadServerConfig creates a tls.Config for a listener. It returns nil, nil
// when TLS is disabled.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "tlsutil", "LoadServerConfig", "validate")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.ClientCAFiles) == 0 {
		return tlsConfig, nil
	}

	clientCAs := x509.NewCertPool()
	if err := appendCAFiles(clientCAs, cfg.ClientCAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load client CA files")
	}
	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(chains, allowed)
		}
	}

	return tlsConfig, nil
}

func appendCAFiles(pool *x509.CertPool, files []string) error {
	for _, caFile := range files {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("read CA file %s: %w", caFile, err)
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("no PEM certificates in %s", caFile)
		}
	}
	return nil
}

// verifyAllowedClientCN checks the leaf certificate CN against the allow list.
// A client that sent no certificate has no chains and passes; ClientAuth
// decides whether that is acceptable.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return nil
	}

	leaf := chains[0][0]
	for _, cn := range allowedCNs {
		if leaf.Subject.CommonName == cn {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN '%s' not in allowed list", leaf.Subject.CommonName)
}

// parseTLSVersion returns tls.VersionTLS12 for anything but "1.3".
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
