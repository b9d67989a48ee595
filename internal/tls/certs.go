// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package tls loads and generates TLS material for the API listener.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io/fs"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

// Certificate lifetimes.
const (
	CAValidity     = 10 * 365 * 24 * time.Hour
	ServerValidity = 365 * 24 * time.Hour
)

// CA holds a certificate authority certificate and private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// ServerCert holds a server certificate and private key.
type ServerCert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	Name        string
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "serial").Wrap(err)
	}
	return serial, nil
}

// GenerateCA creates a self-signed root CA for development deployments.
func GenerateCA(commonName string) (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "ca key").Wrap(err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"authcore"},
			CommonName:   commonName,
		},
		NotBefore:             now,
		NotAfter:              now.Add(CAValidity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "ca certificate").Wrap(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "parse ca").Wrap(err)
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateServerCert creates a server certificate signed by ca. Each host
// becomes an IP or DNS subject alternative name; localhost and 127.0.0.1
// are always included.
func GenerateServerCert(ca *CA, name string, hosts []string) (*ServerCert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "server key").Wrap(err)
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"authcore"},
			CommonName:   name,
		},
		NotBefore:   now,
		NotAfter:    now.Add(ServerValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "server certificate").Wrap(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.Code("TLS_GENERATE_FAILED").With("operation", "parse server certificate").Wrap(err)
	}
	return &ServerCert{Certificate: cert, PrivateKey: key, Name: name}, nil
}

// SaveCertificates writes the CA as root-ca.crt/root-ca.key and, if given,
// the server certificate as {name}.crt/{name}.key. The server file holds the
// leaf followed by the CA so clients receive the full chain.
func SaveCertificates(dir string, ca *CA, server *ServerCert) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("dir", dir).Wrap(err)
	}
	if err := writePEM(filepath.Join(dir, "root-ca.crt"), certBlocks(ca.Certificate)...); err != nil {
		return err
	}
	if err := writeKey(filepath.Join(dir, "root-ca.key"), ca.PrivateKey); err != nil {
		return err
	}
	if server == nil {
		return nil
	}
	if err := writePEM(filepath.Join(dir, server.Name+".crt"), certBlocks(server.Certificate, ca.Certificate)...); err != nil {
		return err
	}
	return writeKey(filepath.Join(dir, server.Name+".key"), server.PrivateKey)
}

// LoadCA reads root-ca.crt and root-ca.key from dir.
func LoadCA(dir string) (*CA, error) {
	certPEM, err := os.ReadFile(filepath.Clean(filepath.Join(dir, "root-ca.crt")))
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("dir", dir).Wrap(err)
	}
	keyPEM, err := os.ReadFile(filepath.Clean(filepath.Join(dir, "root-ca.key")))
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("dir", dir).Wrap(err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("dir", dir).Errorf("CA certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("dir", dir).Wrap(err)
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("dir", dir).Errorf("CA key is not PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("dir", dir).Wrap(err)
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// EnsureSelfSigned returns the certificate and key paths for name in dir,
// generating them when absent. An existing CA in dir signs new server
// certificates; otherwise a new CA is created.
func EnsureSelfSigned(dir, name string, hosts []string) (certFile, keyFile string, err error) {
	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")
	if exists(certFile) && exists(keyFile) {
		return certFile, keyFile, nil
	}

	ca, err := LoadCA(dir)
	if err != nil {
		if !exists(filepath.Join(dir, "root-ca.crt")) {
			ca, err = GenerateCA("authcore development CA")
		}
		if err != nil {
			return "", "", err
		}
	}
	server, err := GenerateServerCert(ca, name, hosts)
	if err != nil {
		return "", "", err
	}
	if err := SaveCertificates(dir, ca, server); err != nil {
		return "", "", err
	}
	return certFile, keyFile, nil
}

// ServerConfig loads a certificate chain and key into a server TLS
// configuration requiring TLS 1.2 or later.
func ServerConfig(certFile, keyFile string) (*cryptotls.Config, error) {
	pair, err := cryptotls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").
			With("cert_file", certFile).
			With("key_file", keyFile).
			Wrap(err)
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		MinVersion:   cryptotls.VersionTLS12,
	}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func certBlocks(certs ...*x509.Certificate) []*pem.Block {
	blocks := make([]*pem.Block, len(certs))
	for i, c := range certs {
		blocks[i] = &pem.Block{Type: "CERTIFICATE", Bytes: c.Raw}
	}
	return blocks
}

func writeKey(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("path", path).Wrap(err)
	}
	return writePEM(path, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func writePEM(path string, blocks ...*pem.Block) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("path", path).Wrap(err)
	}
	for _, b := range blocks {
		if err := pem.Encode(f, b); err != nil {
			_ = f.Close()
			return oops.Code("TLS_SAVE_FAILED").With("path", path).Wrap(err)
		}
	}
	if err := f.Close(); err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
