package tls

import (
	"crypto/tls"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"otp-service/internal/config"
	"otp-service/internal/util"
)

// Manager picks the certificate source for the HTTPS listener.
type Manager struct {
	config   config.TLSConfig
	autoCert *autocert.Manager
	static   *tls.Certificate
}

func NewManager(cfg config.TLSConfig, production bool) (*Manager, error) {
	m := &Manager{config: cfg}

	switch {
	case cfg.Domain != "":
		if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create autocert cache dir: %w", err)
		}
		m.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Domain),
			Cache:      autocert.DirCache(cfg.CacheDir),
			Email:      cfg.Email,
		}
		util.Info("AutoCert configured",
			zap.String("domain", cfg.Domain),
			zap.String("cache_dir", cfg.CacheDir))

	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}
		m.static = &cert

	case production:
		return nil, fmt.Errorf("no certificate source configured")

	default:
		cert, err := NewDevCertGenerator(cfg.CacheDir).GenerateCert([]string{"localhost", "127.0.0.1", "::1"})
		if err != nil {
			return nil, err
		}
		m.static = &cert
	}

	return m, nil
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		return m.autoCert.GetCertificate(hello)
	}
	return m.static, nil
}

// TLSConfig answers TLS-ALPN-01 challenges on the same listener, so no
// plain HTTP port is needed for ACME.
func (m *Manager) TLSConfig() *tls.Config {
	protos := []string{"h2", "http/1.1"}
	if m.autoCert != nil {
		protos = append(protos, acme.ALPNProto)
	}
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     protos,
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}
