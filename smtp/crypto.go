// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"crypto/tls"
	"strings"
)

// CryptoInfo describes the negotiated TLS parameters of a connection.
type CryptoInfo struct {
	Protocol      string
	CipherName    string
	CipherBits    int
	CipherVersion string
}

// protocolName renders a TLS version constant in the classic OpenSSL
// notation. The validation battery compares these strings literally.
func protocolName(version uint16) string {
	switch version {
	case tls.VersionSSL30: //nolint:staticcheck // reported, never negotiated
		return "SSLv3"
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return ""
	}
}

// cipherBits derives the symmetric key size from the negotiated cipher
// suite name.
func cipherBits(name string) int {
	switch {
	case strings.Contains(name, "AES_256"), strings.Contains(name, "CHACHA20"):
		return 256
	case strings.Contains(name, "AES_128"):
		return 128
	case strings.Contains(name, "3DES"):
		return 168
	case strings.Contains(name, "RC4_128"):
		return 128
	default:
		return 0
	}
}

// cryptoInfoFromState builds a CryptoInfo from a completed handshake.
func cryptoInfoFromState(state tls.ConnectionState) CryptoInfo {
	proto := protocolName(state.Version)
	name := tls.CipherSuiteName(state.CipherSuite)
	return CryptoInfo{
		Protocol:      proto,
		CipherName:    name,
		CipherBits:    cipherBits(name),
		CipherVersion: proto,
	}
}
