// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package sasl

import (
	"encoding/base64"
	"fmt"
)

// XOAuth2 implements the XOAUTH2 mechanism used by Google and Microsoft
// submission endpoints. The password slot carries the OAuth2 bearer
// token. A failed attempt delivers a base64 JSON status in a second
// challenge which the client acknowledges with an empty reply.
type XOAuth2 struct {
	username, token string
	step            int
}

// NewXOAuth2 returns an XOAUTH2 mechanism for the given user and bearer
// token.
func NewXOAuth2(username, token string) *XOAuth2 {
	return &XOAuth2{username: username, token: token}
}

// Name returns "XOAUTH2".
func (a *XOAuth2) Name() string {
	return "XOAUTH2"
}

// Process emits the bearer-token message on the first exchange and the
// empty acknowledgement on an error challenge.
func (a *XOAuth2) Process(_ []string) (string, error) {
	defer func() { a.step++ }()
	switch a.step {
	case 0:
		payload := "user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"
		return base64.StdEncoding.EncodeToString([]byte(payload)), nil
	case 1:
		// Acknowledge the error status challenge.
		return "", nil
	default:
		return "", fmt.Errorf("%w: XOAUTH2 exchange already completed", ErrMechanismMisuse)
	}
}

// Reset returns the mechanism to its initial state.
func (a *XOAuth2) Reset() {
	a.step = 0
}
