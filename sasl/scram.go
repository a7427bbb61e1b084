// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package sasl

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
)

// Scram implements the SCRAM-SHA-1 and SCRAM-SHA-256 mechanisms as
// defined in RFC 5802, including the -PLUS variants with TLS channel
// binding per RFC 9266.
type Scram struct {
	username, password string
	algorithm          string
	h                  func() hash.Hash
	isPlus             bool
	tlsConnState       *tls.ConnectionState

	nonce        []byte
	firstBareMsg []byte
	saltedPwd    []byte
	authMessage  []byte
	bindData     []byte
	iterations   int
}

// NewScramSHA1 returns a SCRAM-SHA-1 mechanism using the given
// credentials.
func NewScramSHA1(username, password string) *Scram {
	return &Scram{username: username, password: password, algorithm: "SCRAM-SHA-1", h: sha1.New}
}

// NewScramSHA256 returns a SCRAM-SHA-256 mechanism using the given
// credentials.
func NewScramSHA256(username, password string) *Scram {
	return &Scram{username: username, password: password, algorithm: "SCRAM-SHA-256", h: sha256.New}
}

// NewScramSHA1Plus returns a SCRAM-SHA-1-PLUS mechanism bound to the
// given TLS connection state.
func NewScramSHA1Plus(username, password string, state *tls.ConnectionState) *Scram {
	return &Scram{
		username: username, password: password,
		algorithm: "SCRAM-SHA-1-PLUS", h: sha1.New,
		isPlus: true, tlsConnState: state,
	}
}

// NewScramSHA256Plus returns a SCRAM-SHA-256-PLUS mechanism bound to
// the given TLS connection state.
func NewScramSHA256Plus(username, password string, state *tls.ConnectionState) *Scram {
	return &Scram{
		username: username, password: password,
		algorithm: "SCRAM-SHA-256-PLUS", h: sha256.New,
		isPlus: true, tlsConnState: state,
	}
}

// Name returns the configured SCRAM algorithm name.
func (a *Scram) Name() string {
	return a.algorithm
}

// Process decodes the base64 challenge and advances the SCRAM exchange:
// an empty challenge yields the client-first message, the server-first
// message (r=...) yields the client-final message, and the verification
// message (v=...) is checked against the expected server signature.
func (a *Scram) Process(serverLines []string) (string, error) {
	var decoded []byte
	if line, ok := firstLine(serverLines); ok && line != "" {
		var err error
		decoded, err = base64.StdEncoding.DecodeString(line)
		if err != nil {
			return "", fmt.Errorf("%w: %s challenge is not valid base64", ErrMechanismMisuse, a.algorithm)
		}
	}
	if len(decoded) == 0 {
		a.Reset()
		resp, err := a.initialClientMessage()
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(resp), nil
	}
	switch {
	case bytes.HasPrefix(decoded, []byte("r=")):
		resp, err := a.handleServerFirst(decoded)
		if err != nil {
			a.Reset()
			return "", err
		}
		return base64.StdEncoding.EncodeToString(resp), nil
	case bytes.HasPrefix(decoded, []byte("v=")):
		if err := a.verifyServerSignature(decoded); err != nil {
			a.Reset()
			return "", err
		}
		return "", nil
	default:
		a.Reset()
		return "", fmt.Errorf("%w: unexpected %s challenge: %s", ErrMechanismMisuse, a.algorithm, decoded)
	}
}

// Reset clears all per-attempt state.
func (a *Scram) Reset() {
	a.nonce = nil
	a.firstBareMsg = nil
	a.saltedPwd = nil
	a.authMessage = nil
	a.bindData = nil
	a.iterations = 0
}

// initialClientMessage generates the client-first message, including a
// fresh nonce and the channel-binding header.
func (a *Scram) initialClientMessage() ([]byte, error) {
	username, err := a.normalizeUsername()
	if err != nil {
		return nil, err
	}

	nonceBuffer := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, nonceBuffer); err != nil {
		return nil, fmt.Errorf("unable to generate client nonce: %w", err)
	}
	a.nonce = make([]byte, base64.StdEncoding.EncodedLen(len(nonceBuffer)))
	base64.StdEncoding.Encode(a.nonce, nonceBuffer)

	a.firstBareMsg = []byte("n=" + username + ",r=" + string(a.nonce))
	if !a.isPlus {
		return []byte("n,," + string(a.firstBareMsg)), nil
	}

	if a.tlsConnState == nil {
		return nil, errors.New("tls connection state is required for " + a.algorithm)
	}
	bindType := "tls-unique"
	bindData := a.tlsConnState.TLSUnique
	// tls-unique is not defined for TLS 1.3 and later (RFC 9266), and
	// may be absent on resumed connections.
	if bindData == nil || a.tlsConnState.Version >= tls.VersionTLS13 {
		bindType = "tls-exporter"
		var err error
		bindData, err = a.tlsConnState.ExportKeyingMaterial("EXPORTER-Channel-Binding", []byte{}, 32)
		if err != nil {
			return nil, fmt.Errorf("unable to export keying material: %w", err)
		}
	}
	bindData = []byte("p=" + bindType + ",," + string(bindData))
	a.bindData = make([]byte, base64.StdEncoding.EncodedLen(len(bindData)))
	base64.StdEncoding.Encode(a.bindData, bindData)
	return []byte("p=" + bindType + ",," + string(a.firstBareMsg)), nil
}

// handleServerFirst processes the server-first message and produces the
// client-final message.
func (a *Scram) handleServerFirst(fromServer []byte) ([]byte, error) {
	parts := bytes.Split(fromServer, []byte(","))
	if len(parts) < 3 {
		return nil, errors.New("not enough fields in the server-first message")
	}
	if !bytes.HasPrefix(parts[0], []byte("r=")) ||
		!bytes.HasPrefix(parts[1], []byte("s=")) ||
		!bytes.HasPrefix(parts[2], []byte("i=")) {
		return nil, errors.New("malformed server-first message")
	}

	combinedNonce := parts[0][2:]
	if len(a.nonce) == 0 || !bytes.HasPrefix(combinedNonce, a.nonce) {
		return nil, errors.New("server nonce does not start with the client nonce")
	}
	a.nonce = combinedNonce

	encodedSalt := parts[1][2:]
	salt := make([]byte, base64.StdEncoding.DecodedLen(len(encodedSalt)))
	n, err := base64.StdEncoding.Decode(salt, encodedSalt)
	if err != nil {
		return nil, fmt.Errorf("invalid encoded salt: %w", err)
	}
	salt = salt[:n]

	iterations, err := strconv.Atoi(string(parts[2][2:]))
	if err != nil {
		return nil, fmt.Errorf("invalid iteration count: %w", err)
	}
	a.iterations = iterations

	password, err := a.normalizeString(a.password)
	if err != nil {
		return nil, fmt.Errorf("unable to normalize password: %w", err)
	}
	a.saltedPwd = pbkdf2.Key([]byte(password), salt, a.iterations, a.h().Size(), a.h)

	msgWithoutProof := []byte("c=biws,r=" + string(a.nonce))
	if a.isPlus {
		msgWithoutProof = []byte("c=" + string(a.bindData) + ",r=" + string(a.nonce))
	}
	a.authMessage = []byte(string(a.firstBareMsg) + "," + string(fromServer) + "," + string(msgWithoutProof))

	return []byte(string(msgWithoutProof) + ",p=" + string(a.clientProof())), nil
}

// verifyServerSignature checks the server's verification message
// against the signature derived from the salted password.
func (a *Scram) verifyServerSignature(fromServer []byte) error {
	serverKey := a.computeHMAC(a.saltedPwd, []byte("Server Key"))
	serverSignature := a.computeHMAC(serverKey, a.authMessage)
	expected := make([]byte, base64.StdEncoding.EncodedLen(len(serverSignature)))
	base64.StdEncoding.Encode(expected, serverSignature)
	if !hmac.Equal(fromServer[2:], expected) {
		return errors.New("invalid server signature")
	}
	return nil
}

func (a *Scram) computeHMAC(key, msg []byte) []byte {
	mac := hmac.New(a.h, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func (a *Scram) computeHash(key []byte) []byte {
	hasher := a.h()
	hasher.Write(key)
	return hasher.Sum(nil)
}

// clientProof derives the base64-encoded client proof from the salted
// password and the accumulated auth message.
func (a *Scram) clientProof() []byte {
	clientKey := a.computeHMAC(a.saltedPwd, []byte("Client Key"))
	storedKey := a.computeHash(clientKey)
	clientSignature := a.computeHMAC(storedKey, a.authMessage)
	clientProof := make([]byte, len(clientSignature))
	for i := range clientSignature {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}
	buf := make([]byte, base64.StdEncoding.EncodedLen(len(clientProof)))
	base64.StdEncoding.Encode(buf, clientProof)
	return buf
}

// normalizeUsername escapes the SCRAM-reserved characters and applies
// the SASLprep profile per RFC 5802 section 5.1.
func (a *Scram) normalizeUsername() (string, error) {
	replacer := strings.NewReplacer("=", "=3D", ",", "=2C")
	username, err := a.normalizeString(replacer.Replace(a.username))
	if err != nil {
		return "", fmt.Errorf("unable to normalize username: %w", err)
	}
	return username, nil
}

// normalizeString applies the OpaqueString precis profile.
func (a *Scram) normalizeString(s string) (string, error) {
	s, err := precis.OpaqueString.String(s)
	if err != nil {
		return "", fmt.Errorf("failed to normalize string: %w", err)
	}
	return s, nil
}
