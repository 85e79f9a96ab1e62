package console

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ALPN is the application protocol negotiated by console peers.
const ALPN = "um-console/1"

// generateCertificate creates a self-signed ed25519 server certificate.
func generateCertificate(privateKey ed25519.PrivateKey) (tls.Certificate, error) {
	publicKey := privateKey.Public().(ed25519.PublicKey)

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: "um-console"},
		DNSNames:              []string{"um-console"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, publicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certBytes},
		PrivateKey:  privateKey,
	}, nil
}

// Fingerprint is the hex blake2b-256 digest of a DER certificate.
func Fingerprint(der []byte) string {
	sum := blake2b.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// serverTLSConfig creates a TLS configuration with a fresh certificate.
func serverTLSConfig() (*tls.Config, string, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key: %w", err)
	}
	cert, err := generateCertificate(privateKey)
	if err != nil {
		return nil, "", err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{ALPN},
	}
	return tlsConfig, Fingerprint(cert.Certificate[0]), nil
}

// clientTLSConfig accepts the self-signed server certificate, pinned to
// fingerprint when one is given.
func clientTLSConfig(fingerprint string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{ALPN},
		// The server certificate is self-signed; identity comes from the pin.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyFingerprint(rawCerts, fingerprint)
		},
	}
}

func verifyFingerprint(rawCerts [][]byte, fingerprint string) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("no certificate provided by peer")
	}
	if _, err := x509.ParseCertificate(rawCerts[0]); err != nil {
		return fmt.Errorf("failed to parse peer certificate: %w", err)
	}
	if fingerprint == "" {
		return nil
	}
	if got := Fingerprint(rawCerts[0]); !strings.EqualFold(got, fingerprint) {
		return fmt.Errorf("peer certificate fingerprint %s does not match %s", got, fingerprint)
	}
	return nil
}
