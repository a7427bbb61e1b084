// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

// Package validate runs the fixed compliance battery that decides
// whether an SMTP endpoint is correctly and securely configured for
// message submission. Each check drives a fresh session so no protocol
// state leaks between checks.
package validate

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/librarymarket/msaprobe/sasl"
	"github.com/librarymarket/msaprobe/smtp"
)

// Session is the slice of the SMTP session surface the battery drives.
// *smtp.Session satisfies it; tests inject scripted implementations.
type Session interface {
	Connect() error
	Probe() error
	Extensions() (smtp.Extensions, bool)
	Meta() (smtp.CryptoInfo, bool)
	IsAuthenticationRequired(sender string) (bool, error)
	Authenticate(mechanism sasl.Mechanism) error
	Disconnect()
	DebugTranscript() string
}

// SessionFactory produces a fresh, unconnected session negotiating
// transport encryption per the given connection type. The runner calls
// it once per check.
type SessionFactory func(t smtp.ConnectionType) (Session, error)

// ErrValidationFailed is returned by Run when at least one check
// failed.
var ErrValidationFailed = errors.New("one or more validation checks failed")

// Runner executes the compliance battery against a single endpoint.
type Runner struct {
	factory       SessionFactory
	connType      smtp.ConnectionType
	username      string
	password      string
	sender        string
	strict        bool
	stopOnFailure bool
	out           io.Writer
	errOut        io.Writer

	// current is the session of the check in flight; its transcript is
	// dumped when the check fails.
	current Session
}

// Option returns a function that can be used for grouping Runner
// options.
type Option func(*Runner) error

// New returns a Runner validating via sessions from the given factory.
// connType is the connection type under test and must be
// ConnectionSTARTTLS or ConnectionTLS.
func New(factory SessionFactory, connType smtp.ConnectionType, username, password string, opts ...Option) (*Runner, error) {
	if factory == nil {
		return nil, errors.New("validate: a session factory is required")
	}
	if connType != smtp.ConnectionSTARTTLS && connType != smtp.ConnectionTLS {
		return nil, fmt.Errorf("validate: connection type %s cannot be validated", connType)
	}
	r := &Runner{
		factory:  factory,
		connType: connType,
		username: username,
		password: password,
		out:      os.Stdout,
		errOut:   os.Stderr,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// WithStrict enables the strict-only checks.
func WithStrict() Option {
	return func(r *Runner) error {
		r.strict = true
		return nil
	}
}

// WithSender sets the sender address used by the submission probes.
// The default is the empty reverse-path.
func WithSender(sender string) Option {
	return func(r *Runner) error {
		r.sender = sender
		return nil
	}
}

// WithStopOnFailure makes the runner stop at the first failing check
// instead of continuing through the battery.
func WithStopOnFailure() Option {
	return func(r *Runner) error {
		r.stopOnFailure = true
		return nil
	}
}

// WithOutput overrides the writers used for check results and failure
// diagnostics.
func WithOutput(out, errOut io.Writer) Option {
	return func(r *Runner) error {
		if out == nil || errOut == nil {
			return errors.New("validate: output writers must not be nil")
		}
		r.out = out
		r.errOut = errOut
		return nil
	}
}

// check couples a one-line description with the function implementing
// it. The battery below runs in declaration order.
type check struct {
	description string
	strictOnly  bool
	run         func(*Runner) error
}

var checks = []check{
	{"Plain-text connections must not offer authentication", true, (*Runner).checkPlainTextAuthDisallowed},
	{"The negotiated TLS protocol must be modern", false, (*Runner).checkTLSProtocolModern},
	{"The server must support authentication", false, (*Runner).checkAuthSupported},
	{"The server must offer a compatible authentication mechanism", false, (*Runner).checkAuthMechanismSupported},
	{"Submission must require authentication", false, (*Runner).checkAuthRequiredForSubmission},
	{"Invalid credentials must be rejected", false, (*Runner).checkInvalidCredentialsRejected},
	{"Valid credentials must be accepted and unlock submission", false, (*Runner).checkValidCredentialsAccepted},
}

// Run executes the battery in order, printing one PASS/FAIL line per
// check and dumping the session transcript of each failing check. It
// returns ErrValidationFailed when any check failed.
func (r *Runner) Run() error {
	failed := 0
	for _, c := range checks {
		if c.strictOnly && !r.strict {
			continue
		}
		fmt.Fprintf(r.out, "%s ... ", c.description)
		r.current = nil
		err := c.run(r)
		if r.current != nil {
			r.current.Disconnect()
		}
		if err == nil {
			fmt.Fprintln(r.out, "PASS")
			continue
		}
		failed++
		fmt.Fprintln(r.out, "FAIL")
		fmt.Fprintf(r.errOut, "Failure: %v\n", err)
		if r.current != nil {
			fmt.Fprintf(r.errOut, "Debug Log:\n[\n%s]\n", r.current.DebugTranscript())
		}
		if r.stopOnFailure {
			break
		}
	}
	if failed > 0 {
		return ErrValidationFailed
	}
	return nil
}

// probedSession produces a fresh session via the factory, connects it
// and completes the negotiation. The session is retained so a failing
// check can dump its transcript.
func (r *Runner) probedSession(t smtp.ConnectionType) (Session, error) {
	sess, err := r.factory(t)
	if err != nil {
		return nil, err
	}
	r.current = sess
	if err := sess.Connect(); err != nil {
		return nil, err
	}
	if err := sess.Probe(); err != nil {
		return nil, err
	}
	return sess, nil
}

// checkPlainTextAuthDisallowed opens a deliberately unencrypted
// session and asserts the server withholds the AUTH extension there.
// Implicit-TLS endpoints have no plaintext variant to probe.
func (r *Runner) checkPlainTextAuthDisallowed() error {
	if r.connType == smtp.ConnectionTLS {
		return nil
	}
	sess, err := r.probedSession(smtp.ConnectionPlainText)
	if err != nil {
		return err
	}
	ext, _ := sess.Extensions()
	if ext.Has("AUTH") {
		return errors.New("server offers AUTH on a plain-text connection")
	}
	return nil
}

// checkTLSProtocolModern asserts the negotiated protocol is TLS 1.2 or
// newer.
func (r *Runner) checkTLSProtocolModern() error {
	sess, err := r.probedSession(r.connType)
	if err != nil {
		return err
	}
	meta, ok := sess.Meta()
	if !ok || meta.Protocol == "" {
		return errors.New("no TLS protocol was negotiated")
	}
	if meta.Protocol == "TLSv1" || meta.Protocol == "TLSv1.1" {
		return fmt.Errorf("negotiated TLS protocol %s is obsolete", meta.Protocol)
	}
	return nil
}

// checkAuthSupported asserts the AUTH extension is advertised.
func (r *Runner) checkAuthSupported() error {
	sess, err := r.probedSession(r.connType)
	if err != nil {
		return err
	}
	ext, _ := sess.Extensions()
	if !ext.Has("AUTH") {
		return errors.New("server does not advertise the AUTH extension")
	}
	return nil
}

// checkAuthMechanismSupported asserts at least one advertised
// mechanism is in the supported set.
func (r *Runner) checkAuthMechanismSupported() error {
	sess, err := r.probedSession(r.connType)
	if err != nil {
		return err
	}
	ext, _ := sess.Extensions()
	if _, ok := sasl.Choose(ext.Params("AUTH")); !ok {
		return fmt.Errorf("%w (server offers: %v)", sasl.ErrNoSupportedMechanism, ext.Params("AUTH"))
	}
	return nil
}

// checkAuthRequiredForSubmission asserts the submission probe is
// refused before authentication.
func (r *Runner) checkAuthRequiredForSubmission() error {
	sess, err := r.probedSession(r.connType)
	if err != nil {
		return err
	}
	required, err := sess.IsAuthenticationRequired(r.sender)
	if err != nil {
		return err
	}
	if !required {
		return errors.New("submission is allowed without authentication")
	}
	return nil
}

// checkInvalidCredentialsRejected authenticates with random throwaway
// credentials and expects the server to reject them.
func (r *Runner) checkInvalidCredentialsRejected() error {
	sess, err := r.probedSession(r.connType)
	if err != nil {
		return err
	}
	ext, _ := sess.Extensions()
	username, err := smtp.RandomHex(8)
	if err != nil {
		return err
	}
	password, err := smtp.RandomHex(8)
	if err != nil {
		return err
	}
	mechanism, err := sasl.Select(ext.Params("AUTH"), username, password)
	if err != nil {
		return err
	}
	err = sess.Authenticate(mechanism)
	if err == nil {
		return errors.New("server accepted invalid credentials")
	}
	if errors.Is(err, &smtp.DialogError{Reason: smtp.ReasonAuthentication}) {
		return nil
	}
	return err
}

// checkValidCredentialsAccepted authenticates with the supplied
// credentials and asserts submission is unlocked afterwards.
func (r *Runner) checkValidCredentialsAccepted() error {
	sess, err := r.probedSession(r.connType)
	if err != nil {
		return err
	}
	ext, _ := sess.Extensions()
	mechanism, err := sasl.Select(ext.Params("AUTH"), r.username, r.password)
	if err != nil {
		return err
	}
	if err := sess.Authenticate(mechanism); err != nil {
		return err
	}
	required, err := sess.IsAuthenticationRequired(r.sender)
	if err != nil {
		return err
	}
	if required {
		return errors.New("submission still requires authentication after a successful login")
	}
	return nil
}
