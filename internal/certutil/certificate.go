// Package certutil generates and loads TLS certificates for the optional
// HTTPS listener. Adapted from the teacher's gRPC mTLS credential helpers,
// minus the gRPC-specific credentials.TransportCredentials wrapping: the HTTP
// server wants a plain *tls.Config.
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Force minimum TLS 1.2 and the top-preferred AEAD ECDHE suites from
// https://github.com/golang/go/blob/go1.17/src/crypto/tls/cipher_suites.go#L272-L275
const MinVersion = tls.VersionTLS12

var CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305, tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// ServerTLSConfig builds a server-side *tls.Config for the HTTP listener. If
// clientCACert is non-empty, client certificates are required and verified.
func ServerTLSConfig(serverCert, serverKey, clientCACert []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(serverCert, serverKey)
	if err != nil {
		return nil, fmt.Errorf("loading server key pair: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   MinVersion,
		CipherSuites: CipherSuites,
	}
	if len(clientCACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(clientCACert) {
			return nil, fmt.Errorf("failed adding client CA cert from PEM")
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// GenerateConfig is configuration for Generate.
type GenerateConfig struct {
	SignerCert []byte
	SignerKey  []byte
	// If true, this key can sign others and is marked as a CA. CA certs are only
	// used for signing and verification, not directly for server/client auth.
	// This cannot be true if ServerHost is non-empty.
	CA bool
	// The IP or DNS name used by the server. If non-empty, the certificate is a
	// server certificate for server auth. If empty, it is a client certificate
	// for client auth. Must be empty if CA is true.
	ServerHost string
}

// Generate generates an ECDSA P-256 certificate valid for one year.
func Generate(config GenerateConfig) (certPEM, keyPEM []byte, err error) {
	if config.CA && config.ServerHost != "" {
		return nil, nil, fmt.Errorf("cannot have server host for CA")
	} else if (len(config.SignerCert) == 0) != (len(config.SignerKey) == 0) {
		return nil, nil, fmt.Errorf("only one of signer cert or key present, must have both or neither")
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	cert := &x509.Certificate{
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  config.CA,
	}
	if cert.SerialNumber, err = rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128)); err != nil {
		return nil, nil, fmt.Errorf("generating serial number: %w", err)
	}
	if config.CA {
		cert.KeyUsage |= x509.KeyUsageCertSign
	} else if config.ServerHost != "" {
		cert.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		cert.Subject.CommonName = config.ServerHost
		if ip := net.ParseIP(config.ServerHost); ip != nil {
			cert.IPAddresses = []net.IP{ip}
		} else {
			cert.DNSNames = []string{config.ServerHost}
		}
	} else {
		cert.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}
	parentCert, parentPriv := cert, priv
	if len(config.SignerCert) > 0 {
		block, _ := pem.Decode(config.SignerCert)
		if block == nil {
			return nil, nil, fmt.Errorf("failed reading cert PEM")
		}
		if parentCert, err = x509.ParseCertificate(block.Bytes); err != nil {
			return nil, nil, fmt.Errorf("parsing cert: %w", err)
		}
		block, _ = pem.Decode(config.SignerKey)
		if block == nil {
			return nil, nil, fmt.Errorf("failed reading key PEM")
		}
		parentPrivIface, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing key: %w", err)
		}
		if parentPriv, _ = parentPrivIface.(*ecdsa.PrivateKey); parentPriv == nil {
			return nil, nil, fmt.Errorf("unexpected private key type %T", parentPrivIface)
		}
	}
	certBytes, err := x509.CreateCertificate(rand.Reader, cert, parentCert, &priv.PublicKey, parentPriv)
	if err != nil {
		return nil, nil, fmt.Errorf("creating certificate: %w", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes})
	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling private key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	return certPEM, keyPEM, nil
}
