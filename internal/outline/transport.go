package outline

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

// errPinMismatch — сервер предъявил не тот сертификат, который закреплён в конфиге.
var errPinMismatch = errors.New("presented certificate does not match pinned certificate")

// Pin — якорь доверия одного сервера.
//
// CertPEM кладётся в пул корней вместо системных. Если PinInsteadOfHostname
// выставлен, стандартная проверка цепочки и имени хоста отключается и
// заменяется точным сравнением листового сертификата с CertPEM и/или
// отпечатком SHA256. Замена действует только на транспорт этого сервера.
type Pin struct {
	CertPEM              []byte
	SHA256               []byte
	PinInsteadOfHostname bool
}

// LoadPin читает закреплённый сертификат и отпечаток из настроек сервера.
func LoadPin(s config.Server) (Pin, error) {
	const op = "outline.LoadPin"
	pin := Pin{PinInsteadOfHostname: s.PinInsteadOfHostname}
	if s.CertFile != "" {
		data, err := os.ReadFile(s.CertFile)
		if err != nil {
			return Pin{}, fmt.Errorf("%s: %w: %v", op, errs.ErrConfiguration, err)
		}
		pin.CertPEM = data
	}
	if s.CertSHA256 != "" {
		fp, err := parseFingerprint(s.CertSHA256)
		if err != nil {
			return Pin{}, fmt.Errorf("%s: %w: %v", op, errs.ErrConfiguration, err)
		}
		pin.SHA256 = fp
	}
	return pin, nil
}

// parseFingerprint принимает hex с двоеточиями или без, в любом регистре.
func parseFingerprint(s string) ([]byte, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	fp, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cert_sha256: %w", err)
	}
	if len(fp) != sha256.Size {
		return nil, fmt.Errorf("invalid cert_sha256: want %d bytes, got %d", sha256.Size, len(fp))
	}
	return fp, nil
}

// NewTLSConfig собирает tls.Config, доверяющий только закреплённому сертификату.
func NewTLSConfig(pin Pin) (*tls.Config, error) {
	const op = "outline.NewTLSConfig"
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	var pinned *x509.Certificate
	if len(pin.CertPEM) > 0 {
		block, _ := pem.Decode(pin.CertPEM)
		if block == nil || block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%s: %w: cert_file is not a PEM certificate", op, errs.ErrConfiguration)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", op, errs.ErrConfiguration, err)
		}
		pinned = cert
		pool := x509.NewCertPool()
		pool.AddCert(cert)
		cfg.RootCAs = pool
	}

	switch {
	case pinned == nil && len(pin.SHA256) == 0:
		return nil, fmt.Errorf("%s: %w: no pinned certificate", op, errs.ErrConfiguration)
	case pinned == nil && !pin.PinInsteadOfHostname:
		return nil, fmt.Errorf("%s: %w: fingerprint pin requires pin_instead_of_hostname", op, errs.ErrConfiguration)
	}

	if pin.PinInsteadOfHostname {
		// Цепочка и имя хоста не проверяются стандартным образом,
		// проверку полностью выполняет verifyPinned.
		cfg.InsecureSkipVerify = true
	}
	if pin.PinInsteadOfHostname || len(pin.SHA256) > 0 {
		cfg.VerifyConnection = verifyPinned(pinned, pin.SHA256)
	}
	return cfg, nil
}

func verifyPinned(pinned *x509.Certificate, fingerprint []byte) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errPinMismatch
		}
		leaf := cs.PeerCertificates[0]
		if pinned != nil && !bytes.Equal(leaf.Raw, pinned.Raw) {
			return errPinMismatch
		}
		if len(fingerprint) > 0 {
			sum := sha256.Sum256(leaf.Raw)
			if !bytes.Equal(sum[:], fingerprint) {
				return errPinMismatch
			}
		}
		return nil
	}
}

// NewPinnedHTTPClient возвращает http.Client с закреплённым сертификатом и таймаутом.
func NewPinnedHTTPClient(pin Pin, timeout time.Duration) (*http.Client, error) {
	tlsConfig, err := NewTLSConfig(pin)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy:               nil,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   false,
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
