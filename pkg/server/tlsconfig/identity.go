package tlsconfig

import (
	"crypto/x509"
	"net/http"
)

// Identity returns the field of cert selected by source:
//   - "subject.CN" (or empty): Common Name
//   - "subject.OU": first Organizational Unit
//   - "subject.O": first Organization
//   - "SAN": first DNS name
//
// It returns "" when the field is absent.
func Identity(cert *x509.Certificate, source string) string {
	if cert == nil {
		return ""
	}

	switch source {
	case "subject.CN", "":
		return cert.Subject.CommonName
	case "subject.OU":
		if len(cert.Subject.OrganizationalUnit) > 0 {
			return cert.Subject.OrganizationalUnit[0]
		}
	case "subject.O":
		if len(cert.Subject.Organization) > 0 {
			return cert.Subject.Organization[0]
		}
	case "SAN":
		if len(cert.DNSNames) > 0 {
			return cert.DNSNames[0]
		}
	}
	return ""
}

// ClientIdentity returns the identity of the verified client certificate of
// r, or "" when the connection carries none. Unverified certificates, as
// accepted by the "request" client auth type, are ignored.
func ClientIdentity(r *http.Request, source string) string {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
		return ""
	}
	return Identity(r.TLS.VerifiedChains[0][0], source)
}
