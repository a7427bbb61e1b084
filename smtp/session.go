// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"crypto/tls"
	"errors"
	"net"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/librarymarket/msaprobe/log"
	"github.com/librarymarket/msaprobe/sasl"
)

// sessionState tracks the progress of the SMTP dialogue. Later states
// own the data populated along the way: the server identity exists from
// stateGreeted on, the extension table from stateExtended/stateBasic
// on.
type sessionState int

const (
	stateUnconnected sessionState = iota
	stateConnected
	stateGreeted
	stateBasic
	stateExtended
	stateEncrypted
	stateExtendedSecure
	stateAuthenticated
	stateClosed
)

// Session drives the SMTP dialogue over a single transport: greeting,
// EHLO/HELO negotiation, STARTTLS upgrade, SASL authentication and the
// MAIL FROM/RCPT TO submission probe. A session owns at most one live
// transport; once any I/O operation fails the session must be
// discarded.
type Session struct {
	host           string
	port           int
	connType       ConnectionType
	tlsConfig      *tls.Config
	helo           string
	connectTimeout time.Duration
	rwTimeout      time.Duration
	logger         log.Logger
	debug          bool
	logAuthData    bool

	conn     *Conn
	trace    *Transcript
	state    sessionState
	identity string
	ext      Extensions
}

// Option returns a function that can be used for grouping Session
// options.
type Option func(*Session) error

var (
	// ErrInvalidPort is returned when a port outside [1,65535] is
	// given.
	ErrInvalidPort = errors.New("invalid port number")

	// ErrInvalidTimeout is returned when a timeout is zero or negative.
	ErrInvalidTimeout = errors.New("timeout cannot be zero or negative")

	// ErrInvalidHELO is returned when an empty HELO/EHLO domain is
	// given.
	ErrInvalidHELO = errors.New("invalid HELO/EHLO value - must not be empty")

	// ErrInvalidTLSConfig is returned when a nil tls.Config is given.
	ErrInvalidTLSConfig = errors.New("invalid TLS config")
)

// New returns an unconnected Session for the given server. The host
// must be an address literal or resolvable; the port must lie in
// [1,65535]. Both are rejected here, before any connection attempt.
func New(host string, port int, opts ...Option) (*Session, error) {
	if port < 1 || port > 65535 {
		return nil, newDialogError(ReasonInvalidArgument, ErrInvalidPort)
	}
	if net.ParseIP(host) == nil {
		if _, err := net.LookupHost(host); err != nil {
			return nil, newDialogError(ReasonInvalidArgument, err)
		}
	}

	s := &Session{
		host:           host,
		port:           port,
		connType:       ConnectionAuto,
		tlsConfig:      &tls.Config{ServerName: host, MinVersion: tls.VersionTLS10},
		helo:           DefaultHELODomain,
		connectTimeout: DefaultConnectTimeout,
		rwTimeout:      DefaultReadWriteTimeout,
		trace:          &Transcript{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.debug && s.logger == nil {
		s.logger = log.New(os.Stderr, log.LevelDebug)
	}
	return s, nil
}

// WithConnectionType sets how transport encryption is negotiated.
func WithConnectionType(t ConnectionType) Option {
	return func(s *Session) error {
		s.connType = t
		return nil
	}
}

// WithTLSConfig overrides the TLS configuration used for implicit TLS
// and the STARTTLS upgrade.
func WithTLSConfig(config *tls.Config) Option {
	return func(s *Session) error {
		if config == nil {
			return ErrInvalidTLSConfig
		}
		s.tlsConfig = config
		return nil
	}
}

// WithHELO overrides the domain used in the EHLO/HELO greeting.
func WithHELO(domain string) Option {
	return func(s *Session) error {
		if domain == "" {
			return ErrInvalidHELO
		}
		s.helo = domain
		return nil
	}
}

// WithConnectTimeout overrides the connection establishment timeout.
func WithConnectTimeout(t time.Duration) Option {
	return func(s *Session) error {
		if t <= 0 {
			return ErrInvalidTimeout
		}
		s.connectTimeout = t
		return nil
	}
}

// WithReadWriteTimeout overrides the per-operation read/write timeout.
func WithReadWriteTimeout(t time.Duration) Option {
	return func(s *Session) error {
		if t <= 0 {
			return ErrInvalidTimeout
		}
		s.rwTimeout = t
		return nil
	}
}

// WithLogger sets the logger used for debug logging of the dialogue.
func WithLogger(l log.Logger) Option {
	return func(s *Session) error {
		s.logger = l
		return nil
	}
}

// WithDebugLog enables per-line debug logging of the dialogue.
func WithDebugLog() Option {
	return func(s *Session) error {
		s.debug = true
		return nil
	}
}

// WithLogAuthData disables the suppression of authentication payloads
// in the transcript and debug log.
func WithLogAuthData() Option {
	return func(s *Session) error {
		s.logAuthData = true
		return nil
	}
}

// ServerAddr returns the host:port combination the session targets.
func (s *Session) ServerAddr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Connect establishes the transport: a TCP socket, or an implicit TLS
// socket when the connection type is ConnectionTLS. Calling Connect on
// a session that already carries a live transport is an error.
func (s *Session) Connect() error {
	if s.conn != nil {
		return ErrAlreadyConnected
	}
	dialer := &net.Dialer{Timeout: s.connectTimeout}
	var (
		nc  net.Conn
		err error
	)
	if s.connType == ConnectionTLS {
		nc, err = tls.DialWithDialer(dialer, "tcp", s.ServerAddr(), s.tlsConfig)
	} else {
		nc, err = dialer.Dial("tcp", s.ServerAddr())
	}
	if err != nil {
		return newDialogError(ReasonConnect, err)
	}
	s.attach(nc)
	return nil
}

// attach wires an established network connection into the session. It
// is the seam the tests use to drive the dialogue over a scripted
// connection.
func (s *Session) attach(nc net.Conn) {
	s.conn = newConn(nc, s.rwTimeout, s.trace)
	s.conn.setLogger(s.logger, s.debug)
	s.state = stateConnected
}

// NewFromConn returns a Session that drives the dialogue over an
// already-established connection; the server greeting must not have
// been consumed yet. Intended for tests and callers with bespoke
// dialing needs.
func NewFromConn(nc net.Conn, host string, opts ...Option) (*Session, error) {
	s, err := New(host, 25, opts...)
	if err != nil {
		return nil, err
	}
	s.attach(nc)
	return s, nil
}

// Probe drives the full negotiation: read the server greeting, send
// EHLO (falling back to HELO), build the extension table, and perform
// the STARTTLS upgrade when required or opportunistically available.
// After a successful probe the extension table is frozen for the
// remainder of the session.
func (s *Session) Probe() error {
	if s.conn == nil || s.state == stateClosed {
		return ErrNoActiveConnection
	}
	if s.state != stateConnected {
		return nil
	}

	greeting, err := s.conn.ReadReply()
	if err != nil {
		return &DialogError{Reason: ReasonServerGreeting, cause: err}
	}
	if greeting.Code != 220 {
		return newReplyError(ReasonServerGreeting, greeting)
	}
	if s.identity == "" && len(greeting.Lines) > 0 {
		if fields := strings.Fields(greeting.Lines[0]); len(fields) > 0 {
			s.identity = fields[0]
		}
	}
	s.state = stateGreeted

	ext, viaEhlo, err := s.greet()
	if err != nil {
		return err
	}
	s.ext = ext
	if viaEhlo {
		s.state = stateExtended
	} else {
		s.state = stateBasic
	}

	switch s.connType {
	case ConnectionSTARTTLS:
		if !s.ext.Has("STARTTLS") {
			return newDialogError(ReasonCrypto, ErrStartTLSUnsupported)
		}
		return s.upgrade()
	case ConnectionAuto:
		if s.ext.Has("STARTTLS") {
			return s.upgrade()
		}
	}
	return nil
}

// greet sends EHLO and, when the server rejects it, falls back to HELO.
// A successful HELO yields an empty extension table. Transport failures
// propagate without a fallback attempt.
func (s *Session) greet() (Extensions, bool, error) {
	if err := s.conn.WriteLine("EHLO " + s.helo); err != nil {
		return nil, false, err
	}
	reply, err := s.conn.ReadReply()
	if err != nil {
		return nil, false, err
	}
	if reply.Code == 250 {
		return parseExtensions(reply), true, nil
	}

	if err := s.conn.WriteLine("HELO " + s.helo); err != nil {
		return nil, false, err
	}
	reply, err = s.conn.ReadReply()
	if err != nil {
		return nil, false, err
	}
	if reply.Code == 250 {
		return Extensions{}, false, nil
	}
	return nil, false, newReplyError(ReasonClientGreeting, reply)
}

// upgrade performs the STARTTLS exchange and repeats the client
// greeting over the encrypted channel. The new extension table fully
// replaces the previous one.
func (s *Session) upgrade() error {
	if err := s.conn.WriteLine("STARTTLS"); err != nil {
		return err
	}
	reply, err := s.conn.ReadReply()
	if err != nil {
		return &DialogError{Reason: ReasonCrypto, cause: err}
	}
	if reply.Code != 220 {
		return newReplyError(ReasonCrypto, reply)
	}
	if err := s.conn.StartTLS(s.tlsConfig); err != nil {
		return err
	}
	s.state = stateEncrypted

	ext, _, err := s.greet()
	if err != nil {
		return err
	}
	s.ext = ext
	s.state = stateExtendedSecure
	return nil
}

// Identity returns the first whitespace-delimited token of the server
// greeting. ok is false until a greeting has been read.
func (s *Session) Identity() (string, bool) {
	return s.identity, s.identity != ""
}

// Extensions returns the extension table built by Probe. ok is false
// until the probe has completed.
func (s *Session) Extensions() (Extensions, bool) {
	return s.ext, s.ext != nil
}

// Meta returns the negotiated TLS parameters of the transport. ok is
// false before a TLS handshake has completed.
func (s *Session) Meta() (CryptoInfo, bool) {
	if s.conn == nil {
		return CryptoInfo{}, false
	}
	return s.conn.Meta()
}

// TLSState returns the raw TLS connection state for mechanisms needing
// channel binding material. ok is false on plaintext transports.
func (s *Session) TLSState() (*tls.ConnectionState, bool) {
	if s.conn == nil {
		return nil, false
	}
	return s.conn.TLSState()
}

// validMailbox reports whether addr is a bare, syntactically valid
// mailbox address.
func validMailbox(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

// IsAuthenticationRequired probes whether the server demands
// authentication before accepting a submission: MAIL FROM with the
// given sender, then RCPT TO a randomly generated recipient. The
// sender must be empty or a syntactically valid mailbox address. The
// transaction is aborted with a best-effort RSET regardless of outcome
// so the session stays reusable.
func (s *Session) IsAuthenticationRequired(sender string) (bool, error) {
	if s.conn == nil || s.ext == nil {
		return false, ErrNotProbed
	}
	if sender != "" && !validMailbox(sender) {
		return false, newDialogError(ReasonInvalidArgument, errors.New("invalid sender address: "+sender))
	}
	defer s.resetTransaction()

	if err := s.conn.WriteLine("MAIL FROM:<" + sender + ">"); err != nil {
		return false, err
	}
	final, err := s.conn.ReadReply()
	if err != nil {
		return false, err
	}
	if final.Code == 250 {
		token, err := RandomHex(8)
		if err != nil {
			return false, err
		}
		if err := s.conn.WriteLine("RCPT TO:<" + token + "@" + ProbeAddressDomain + ">"); err != nil {
			return false, err
		}
		final, err = s.conn.ReadReply()
		if err != nil {
			return false, err
		}
	}

	switch final.Code {
	case 250, 251:
		return false, nil
	case 530, 550, 551, 554:
		return true, nil
	case 501:
		if sender == "" {
			return false, newDialogError(ReasonInvalidArgument, ErrSenderRequired)
		}
		return false, newReplyError(ReasonProtocol, final)
	default:
		return false, newReplyError(ReasonProtocol, final)
	}
}

// resetTransaction aborts the current mail transaction with a
// best-effort RSET; failures are intentionally ignored.
func (s *Session) resetTransaction() {
	if s.conn == nil {
		return
	}
	if err := s.conn.WriteLine("RSET"); err != nil {
		return
	}
	_, _ = s.conn.ReadReply()
}

// Authenticate runs the AUTH exchange with the given mechanism. The
// mechanism must be present in the server's advertised AUTH parameter
// list. While the exchange is active, client payload lines are
// suppressed in the transcript and debug log unless WithLogAuthData
// was set. The mechanism is reset on every exit path.
func (s *Session) Authenticate(mechanism sasl.Mechanism) error {
	if s.conn == nil || s.ext == nil {
		return ErrNotProbed
	}
	params := s.ext.Params("AUTH")
	if len(params) == 0 {
		return newDialogError(ReasonAuthentication, ErrAuthNotSupported)
	}
	supported := false
	for _, p := range params {
		if strings.EqualFold(p, mechanism.Name()) {
			supported = true
			break
		}
	}
	if !supported {
		return newDialogError(ReasonAuthentication, ErrAuthMechanismUnsupported)
	}
	if s.connType == ConnectionSTARTTLS && !s.conn.isTLS {
		return newDialogError(ReasonAuthentication, ErrAuthBeforeTLS)
	}

	if err := s.conn.WriteLine("AUTH " + mechanism.Name()); err != nil {
		return err
	}
	s.conn.setHideAuth(!s.logAuthData)
	defer func() {
		mechanism.Reset()
		s.conn.setHideAuth(false)
	}()

	for {
		reply, err := s.conn.ReadReply()
		if err != nil {
			return &DialogError{Reason: ReasonAuthentication, cause: errors.Join(ErrAuthNoResponse, err)}
		}
		switch reply.Code {
		case 334:
			resp, perr := mechanism.Process(reply.Lines)
			if perr != nil {
				// Abort the exchange before surfacing the mechanism
				// error.
				_ = s.conn.WriteLine("*")
				_, _ = s.conn.ReadReply()
				return perr
			}
			if err := s.conn.WriteLine(resp); err != nil {
				return err
			}
		case 235:
			s.state = stateAuthenticated
			return nil
		default:
			return newReplyError(ReasonAuthentication, reply)
		}
	}
}

// Disconnect writes a best-effort QUIT, swallows any failure, and
// closes the transport. It is safe to call repeatedly and on a session
// that never connected.
func (s *Session) Disconnect() {
	if s.conn == nil || s.state == stateClosed {
		s.state = stateClosed
		return
	}
	if err := s.conn.WriteLine("QUIT"); err == nil {
		_, _ = s.conn.ReadReply()
	}
	_ = s.conn.Close()
	s.state = stateClosed
}

// DebugTranscript returns the accumulated transcript of the dialogue.
func (s *Session) DebugTranscript() string {
	return s.trace.String()
}
