// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package sasl

import (
	"encoding/base64"
	"fmt"

	"github.com/Azure/go-ntlmssp"
)

// NTLM implements the NTLMv2 mechanism as deployed by Exchange
// submission endpoints. The domain is split off the username when given
// in DOMAIN\user form.
type NTLM struct {
	username, password  string
	domain, workstation string
	domainNeeded        bool
	step                int
}

// NewNTLM returns an NTLMv2 mechanism using the given credentials and
// optional workstation name.
func NewNTLM(username, password, workstation string) *NTLM {
	user, domain, domainNeeded := ntlmssp.GetDomain(username)
	return &NTLM{
		username:     user,
		password:     password,
		domain:       domain,
		workstation:  workstation,
		domainNeeded: domainNeeded,
	}
}

// Name returns "NTLM".
func (a *NTLM) Name() string {
	return "NTLM"
}

// Process emits the negotiate message first and answers the server
// challenge with the authenticate message.
func (a *NTLM) Process(serverLines []string) (string, error) {
	defer func() { a.step++ }()
	switch a.step {
	case 0:
		negotiate, err := ntlmssp.NewNegotiateMessage(a.domain, a.workstation)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(negotiate), nil
	case 1:
		line, ok := firstLine(serverLines)
		if !ok || line == "" {
			return "", fmt.Errorf("%w: NTLM challenge is empty", ErrMechanismMisuse)
		}
		challenge, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			return "", fmt.Errorf("%w: NTLM challenge is not valid base64", ErrMechanismMisuse)
		}
		authenticate, err := ntlmssp.ProcessChallenge(challenge, a.username, a.password, a.domainNeeded)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(authenticate), nil
	default:
		return "", fmt.Errorf("%w: NTLM exchange already completed", ErrMechanismMisuse)
	}
}

// Reset returns the mechanism to its initial state.
func (a *NTLM) Reset() {
	a.step = 0
}
