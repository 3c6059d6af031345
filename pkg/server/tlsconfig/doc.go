// Package tlsconfig builds the TLS configuration of the Gatekeeper server.
//
// The server certificate is served through a Reloader, which re-reads the
// certificate and key when their files change so renewed certificates are
// picked up without a restart.
//
// With mutual TLS enabled, client certificates are verified against a CA
// bundle and the certificate identity can stand in for the client id of an
// admission check:
//
//	reloader := tlsconfig.NewReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval, logger)
//	if err := reloader.Start(ctx); err != nil {
//	    return err
//	}
//	tlsCfg, err := tlsconfig.Build(cfg, reloader)
//	ln = tls.NewListener(ln, tlsCfg)
//
//	// In a handler
//	clientID := tlsconfig.ClientIdentity(r, cfg.MTLS.IdentitySource)
//
// Only TLS 1.2 and 1.3 are accepted.
package tlsconfig
