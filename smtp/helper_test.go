// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"
)

// faker is a net.Conn stub over a scripted io.ReadWriter.
type faker struct {
	io.ReadWriter
}

func (f faker) Close() error                     { return nil }
func (f faker) LocalAddr() net.Addr              { return nil }
func (f faker) RemoteAddr() net.Addr             { return nil }
func (f faker) SetDeadline(time.Time) error      { return nil }
func (f faker) SetReadDeadline(time.Time) error  { return nil }
func (f faker) SetWriteDeadline(time.Time) error { return nil }

// scriptedConn returns a faker reading the given CRLF-joined server
// lines and capturing the client side in the returned builder.
func scriptedConn(serverLines []string) (faker, *strings.Builder) {
	var wrote strings.Builder
	var fake faker
	fake.ReadWriter = struct {
		io.Reader
		io.Writer
	}{strings.NewReader(strings.Join(serverLines, "\r\n") + "\r\n"), &wrote}
	return fake, &wrote
}

// scriptedSession returns a session driving the dialogue over a
// scripted connection.
func scriptedSession(t *testing.T, serverLines []string, opts ...Option) (*Session, *strings.Builder) {
	t.Helper()
	fake, wrote := scriptedConn(serverLines)
	s, err := NewFromConn(fake, "127.0.0.1", opts...)
	if err != nil {
		t.Fatalf("NewFromConn: %v", err)
	}
	return s, wrote
}

// clientLines splits the captured client side into its CRLF-terminated
// lines.
func clientLines(wrote *strings.Builder) []string {
	return strings.Split(strings.TrimSuffix(wrote.String(), "\r\n"), "\r\n")
}

// newLocalServer starts a one-connection server on a loopback port and
// returns its host and port together with a channel that is closed
// once the handler returns.
func newLocalServer(t *testing.T, handler func(t *testing.T, c net.Conn)) (string, int, <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		handler(t, c)
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, done
}

// sendLines writes CRLF-terminated lines to the server side.
func sendLines(c net.Conn, lines ...string) {
	for _, line := range lines {
		fmt.Fprintf(c, "%s\r\n", line)
	}
}

// expectPrefix reads one client line and checks its prefix.
func expectPrefix(t *testing.T, br *bufio.Reader, prefix string) string {
	line, err := br.ReadString('\n')
	if err != nil {
		t.Errorf("server read failed waiting for %q: %v", prefix, err)
		return ""
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, prefix) {
		t.Errorf("client sent %q, want prefix %q", line, prefix)
	}
	return line
}

// testCertificate generates a throwaway self-signed server certificate
// for the loopback address.
func testCertificate(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("unable to generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("unable to create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}
