// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

// Package msaprobe diagnoses the configuration of Message Submission
// Agents: it probes an SMTP endpoint, negotiates transport encryption,
// exercises SASL authentication and reports whether the server is
// correctly and securely configured for message submission.
package msaprobe

import (
	"fmt"
	"net"

	"github.com/librarymarket/msaprobe/smtp"
	"github.com/librarymarket/msaprobe/validate"
)

// Common submission ports.
const (
	// PortSMTP is the classic SMTP relay port.
	PortSMTP = 25

	// PortSubmission is the message submission port (STARTTLS).
	PortSubmission = 587

	// PortSubmissionTLS is the implicit-TLS submission port.
	PortSubmissionTLS = 465
)

// Endpoint identifies the server under test together with the
// encryption negotiation mode and certificate policy. Endpoints are
// immutable after creation.
type Endpoint struct {
	Host           string
	Port           int
	ConnectionType smtp.ConnectionType
	TLSPolicy      *TLSPolicy
}

// NewEndpoint validates and builds an Endpoint. The host must be an
// address literal or resolvable; the port must lie in [1,65535]. A nil
// policy selects StrictTLSPolicy.
func NewEndpoint(host string, port int, t smtp.ConnectionType, policy *TLSPolicy) (*Endpoint, error) {
	if port < 1 || port > 65535 {
		return nil, smtp.ErrInvalidPort
	}
	if net.ParseIP(host) == nil {
		if _, err := net.LookupHost(host); err != nil {
			return nil, fmt.Errorf("host %q is neither an address literal nor resolvable: %w", host, err)
		}
	}
	if policy == nil {
		policy = StrictTLSPolicy()
	}
	return &Endpoint{Host: host, Port: port, ConnectionType: t, TLSPolicy: policy}, nil
}

// NewSession produces a fresh, unconnected session for the endpoint
// using its own connection type.
func (e *Endpoint) NewSession(opts ...smtp.Option) (*smtp.Session, error) {
	return e.newSession(e.ConnectionType, opts...)
}

// Sessions returns the session factory the validation runner draws
// from: one fresh connection per check, with the check's choice of
// connection type.
func (e *Endpoint) Sessions(opts ...smtp.Option) validate.SessionFactory {
	return func(t smtp.ConnectionType) (validate.Session, error) {
		return e.newSession(t, opts...)
	}
}

func (e *Endpoint) newSession(t smtp.ConnectionType, opts ...smtp.Option) (*smtp.Session, error) {
	config, err := e.TLSPolicy.Config(e.Host)
	if err != nil {
		return nil, err
	}
	all := append([]smtp.Option{
		smtp.WithConnectionType(t),
		smtp.WithTLSConfig(config),
	}, opts...)
	return smtp.New(e.Host, e.Port, all...)
}
