// Package tls configures HTTPS serving from certificate files or ACME.
package tls

import (
	"context"
	cryptotls "crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/amber7117/server-api/config"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

const letsEncryptStaging = "https://acme-staging-v02.api.letsencrypt.org/directory"

// Modes accepted by config.TLSConfig.Mode.
const (
	ModeOff   = "off"
	ModeFiles = "files"
	ModeACME  = "acme"
)

// Provider serves an http.Server over TLS.
type Provider struct {
	mode     string
	certFile string
	keyFile  string
	httpAddr string
	manager  *autocert.Manager
	logger   zerolog.Logger

	challenge *http.Server
}

// NewProvider builds the provider for cfg. Certificate files are loaded
// once here so a bad pair fails at startup.
func NewProvider(cfg config.TLSConfig, logger zerolog.Logger) (*Provider, error) {
	p := &Provider{mode: cfg.Mode, httpAddr: cfg.HTTPAddr, logger: logger}

	switch cfg.Mode {
	case ModeOff, "":
		p.mode = ModeOff
	case ModeFiles:
		if _, err := cryptotls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile); err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		p.certFile, p.keyFile = cfg.CertFile, cfg.KeyFile
	case ModeACME:
		if len(cfg.Domains) == 0 {
			return nil, fmt.Errorf("tls.domains is required for acme mode")
		}
		p.manager = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Domains...),
			Cache:      autocert.DirCache(cfg.CacheDir),
			Email:      cfg.Email,
		}
		if cfg.Staging {
			p.manager.Client = &acme.Client{DirectoryURL: letsEncryptStaging}
		}
	default:
		return nil, fmt.Errorf("unknown tls mode %q", cfg.Mode)
	}
	return p, nil
}

// Enabled reports whether the server runs over TLS.
func (p *Provider) Enabled() bool {
	return p.mode != ModeOff
}

// Apply sets the TLS configuration of srv.
func (p *Provider) Apply(srv *http.Server) {
	switch p.mode {
	case ModeACME:
		srv.TLSConfig = p.manager.TLSConfig()
	case ModeFiles:
		srv.TLSConfig = &cryptotls.Config{MinVersion: cryptotls.VersionTLS12}
	}
}

// HTTPHandler answers ACME http-01 challenges and passes every other
// request to fallback. Without ACME it returns fallback unchanged.
func (p *Provider) HTTPHandler(fallback http.Handler) http.Handler {
	if p.manager == nil {
		return fallback
	}
	return p.manager.HTTPHandler(fallback)
}

// ListenAndServe serves srv, plus the ACME challenge listener in acme mode.
func (p *Provider) ListenAndServe(srv *http.Server) error {
	switch p.mode {
	case ModeFiles:
		return srv.ListenAndServeTLS(p.certFile, p.keyFile)
	case ModeACME:
		p.challenge = &http.Server{
			Addr:              p.httpAddr,
			Handler:           p.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			p.logger.Info().Str("addr", p.httpAddr).Msg("starting acme challenge listener")
			if err := p.challenge.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				p.logger.Error().Err(err).Msg("acme challenge listener failed")
			}
		}()
		// Certificates come from the manager's GetCertificate.
		return srv.ListenAndServeTLS("", "")
	default:
		return srv.ListenAndServe()
	}
}

// Shutdown stops the ACME challenge listener, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.challenge == nil {
		return nil
	}
	return p.challenge.Shutdown(ctx)
}
