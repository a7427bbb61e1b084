// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// CramMD5 implements the CRAM-MD5 mechanism as defined in RFC 2195: a
// single server nonce answered with the username and the lowercase hex
// HMAC-MD5 digest of the nonce keyed by the password.
type CramMD5 struct {
	username, password string
	step               int
}

// NewCramMD5 returns a CRAM-MD5 mechanism using the given credentials.
func NewCramMD5(username, password string) *CramMD5 {
	return &CramMD5{username: username, password: password}
}

// Name returns "CRAM-MD5".
func (a *CramMD5) Name() string {
	return "CRAM-MD5"
}

// Process decodes the base64 nonce challenge and emits the digest
// response. An empty or undecodable challenge, or a second challenge,
// is a misuse of the mechanism.
func (a *CramMD5) Process(serverLines []string) (string, error) {
	if a.step > 0 {
		return "", fmt.Errorf("%w: CRAM-MD5 expects a single challenge", ErrMechanismMisuse)
	}
	a.step++
	challenge, ok := firstLine(serverLines)
	if !ok || challenge == "" {
		return "", fmt.Errorf("%w: CRAM-MD5 challenge is empty", ErrMechanismMisuse)
	}
	nonce, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return "", fmt.Errorf("%w: CRAM-MD5 challenge is not valid base64: %s", ErrMechanismMisuse, challenge)
	}
	mac := hmac.New(md5.New, []byte(a.password))
	mac.Write(nonce)
	digest := hex.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(a.username + " " + digest)), nil
}

// Reset returns the mechanism to its initial state.
func (a *CramMD5) Reset() {
	a.step = 0
}
