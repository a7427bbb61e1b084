// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package msaprobe

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TLSPolicy describes how certificates and protocol versions are
// validated when transport encryption is negotiated. The zero value
// performs no peer verification; use StrictTLSPolicy for validation
// runs and RelaxedTLSPolicy for observation-only probes.
type TLSPolicy struct {
	// VerifyPeer enables certificate chain verification against the
	// configured root store.
	VerifyPeer bool

	// VerifyHostname additionally requires the peer certificate to
	// match the server name. It has no effect unless VerifyPeer is set.
	VerifyHostname bool

	// AllowSelfSigned accepts any certificate the peer presents,
	// overriding VerifyPeer and VerifyHostname.
	AllowSelfSigned bool

	// RootCAs is the trusted root store. When nil, CAFile and CAPath
	// are consulted; when those are empty too, the host system store is
	// used.
	RootCAs *x509.CertPool

	// CAFile is the path of a PEM bundle of trusted roots.
	CAFile string

	// CAPath is the path of a directory of PEM files of trusted roots.
	CAPath string

	// MinVersion and MaxVersion bound the negotiable protocol versions
	// using the crypto/tls version constants. A zero MinVersion admits
	// TLS 1.0 so that obsolete servers can be observed and reported.
	MinVersion uint16
	MaxVersion uint16

	// DisableSNI suppresses the server name indication extension.
	DisableSNI bool
}

// StrictTLSPolicy returns the policy used by validation runs: peer and
// hostname verification on, self-signed certificates refused.
func StrictTLSPolicy() *TLSPolicy {
	return &TLSPolicy{VerifyPeer: true, VerifyHostname: true}
}

// RelaxedTLSPolicy returns the policy used by the observation probes:
// verification off, self-signed certificates accepted.
func RelaxedTLSPolicy() *TLSPolicy {
	return &TLSPolicy{AllowSelfSigned: true}
}

// Config renders the policy as a tls.Config for the given server name.
func (p *TLSPolicy) Config(serverName string) (*tls.Config, error) {
	roots, err := p.rootPool()
	if err != nil {
		return nil, err
	}

	config := &tls.Config{
		MinVersion: tls.VersionTLS10,
		RootCAs:    roots,
	}
	if p.MinVersion != 0 {
		config.MinVersion = p.MinVersion
	}
	if p.MaxVersion != 0 {
		config.MaxVersion = p.MaxVersion
	}
	if !p.DisableSNI {
		config.ServerName = serverName
	}

	switch {
	case p.AllowSelfSigned, !p.VerifyPeer:
		config.InsecureSkipVerify = true
	case !p.VerifyHostname:
		// Verify the chain ourselves so the name check can be skipped.
		config.InsecureSkipVerify = true
		config.VerifyConnection = func(state tls.ConnectionState) error {
			if len(state.PeerCertificates) == 0 {
				return errors.New("server presented no certificate")
			}
			opts := x509.VerifyOptions{
				Roots:         roots,
				Intermediates: x509.NewCertPool(),
			}
			for _, cert := range state.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := state.PeerCertificates[0].Verify(opts)
			return err
		}
	}
	return config, nil
}

// rootPool loads the configured trust store. A nil pool selects the
// host system store.
func (p *TLSPolicy) rootPool() (*x509.CertPool, error) {
	if p.RootCAs != nil {
		return p.RootCAs, nil
	}
	if p.CAFile == "" && p.CAPath == "" {
		return nil, nil
	}

	pool := x509.NewCertPool()
	if p.CAFile != "" {
		pem, err := os.ReadFile(p.CAFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA bundle: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", p.CAFile)
		}
	}
	if p.CAPath != "" {
		entries, err := os.ReadDir(p.CAPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(p.CAPath, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("unable to read CA file: %w", err)
			}
			pool.AppendCertsFromPEM(pem)
		}
	}
	return pool, nil
}
