// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package sasl

import (
	"encoding/base64"
	"fmt"
)

// Plain implements the PLAIN mechanism as defined in RFC 4616. The
// whole exchange is a single client message carrying the authorization
// identity, authentication identity and password; the authorization
// identity is set equal to the username.
type Plain struct {
	username, password string
	step               int
}

// NewPlain returns a PLAIN mechanism using the given credentials.
func NewPlain(username, password string) *Plain {
	return &Plain{username: username, password: password}
}

// Name returns "PLAIN".
func (a *Plain) Name() string {
	return "PLAIN"
}

// Process emits the single credential message. PLAIN carries no server
// challenge, so a second call indicates the server kept the exchange
// open and is a misuse of the mechanism.
func (a *Plain) Process(_ []string) (string, error) {
	if a.step > 0 {
		return "", fmt.Errorf("%w: PLAIN expects a single exchange", ErrMechanismMisuse)
	}
	a.step++
	payload := a.username + "\x00" + a.username + "\x00" + a.password
	return base64.StdEncoding.EncodeToString([]byte(payload)), nil
}

// Reset returns the mechanism to its initial state.
func (a *Plain) Reset() {
	a.step = 0
}
