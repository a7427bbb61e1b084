// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

// Package sasl implements the client side of the SASL mechanisms used
// for SMTP authentication per RFC 4954: PLAIN (RFC 4616), LOGIN and
// CRAM-MD5 (RFC 2195), plus the extended SCRAM (RFC 5802), XOAUTH2 and
// NTLMv2 mechanisms.
//
// Each mechanism is a small challenge/response state machine. Process
// receives the text lines of a 334 server reply and returns the next
// client reply token, already encoded for the wire. Reset returns the
// mechanism to its initial state so an authentication attempt can be
// retried with fresh state.
package sasl

import (
	"errors"
	"fmt"
	"strings"
)

// Mechanism is a pluggable SASL challenge/response state machine.
type Mechanism interface {
	// Name returns the mechanism name as used in the AUTH command,
	// e.g. "PLAIN" or "CRAM-MD5".
	Name() string

	// Process consumes the text lines of a 334 server challenge and
	// returns the client reply token to write. Driving a mechanism out
	// of order is a programming error reported as ErrMechanismMisuse.
	Process(serverLines []string) (string, error)

	// Reset returns the mechanism to its initial state.
	Reset()
}

// ErrMechanismMisuse indicates a SASL state machine was driven out of
// order: a duplicate challenge, an unknown prompt, or an empty
// challenge.
var ErrMechanismMisuse = errors.New("sasl mechanism misuse")

// ErrNoSupportedMechanism indicates the server advertises none of the
// mechanisms this package can negotiate automatically.
var ErrNoSupportedMechanism = errors.New("no supported authentication mechanism")

// Priority is the order in which mechanisms are preferred when
// negotiating against a server-advertised set.
var Priority = []string{"CRAM-MD5", "LOGIN", "PLAIN"}

// firstLine returns the first challenge line, or ok=false when the
// challenge carries no line.
func firstLine(serverLines []string) (string, bool) {
	if len(serverLines) == 0 {
		return "", false
	}
	return serverLines[0], true
}

// Choose returns the highest-priority mechanism name present in the
// advertised set. Matching is case-insensitive.
func Choose(advertised []string) (string, bool) {
	offered := make(map[string]bool, len(advertised))
	for _, name := range advertised {
		offered[strings.ToUpper(name)] = true
	}
	for _, name := range Priority {
		if offered[name] {
			return name, true
		}
	}
	return "", false
}

// Select builds the highest-priority mechanism offered by the server
// using the given credentials.
func Select(advertised []string, username, password string) (Mechanism, error) {
	name, ok := Choose(advertised)
	if !ok {
		return nil, ErrNoSupportedMechanism
	}
	return New(name, username, password)
}

// New builds a mechanism by name. The -PLUS SCRAM variants require TLS
// channel binding material and must be constructed directly.
func New(name, username, password string) (Mechanism, error) {
	switch strings.ToUpper(name) {
	case "CRAM-MD5":
		return NewCramMD5(username, password), nil
	case "LOGIN":
		return NewLogin(username, password), nil
	case "PLAIN":
		return NewPlain(username, password), nil
	case "SCRAM-SHA-1":
		return NewScramSHA1(username, password), nil
	case "SCRAM-SHA-256":
		return NewScramSHA256(username, password), nil
	case "XOAUTH2":
		return NewXOAuth2(username, password), nil
	case "NTLM":
		return NewNTLM(username, password, ""), nil
	default:
		return nil, fmt.Errorf("unknown authentication mechanism: %s", name)
	}
}
