// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/librarymarket/msaprobe/log"
)

// tlsNegotiationMarker is recorded in the transcript immediately before
// the STARTTLS handshake begins.
const tlsNegotiationMarker = "(negotiating TLS)"

// Conn is the line-oriented transport of a session: a TCP or TLS socket
// with per-operation read/write deadlines, CRLF framing on output,
// tolerant CRLF/LF framing on input, and an in-place STARTTLS upgrade.
// All exchanged lines are recorded in the session transcript.
type Conn struct {
	conn      net.Conn
	r         *bufio.Reader
	rwTimeout time.Duration
	isTLS     bool
	closed    bool

	trace    *Transcript
	logger   log.Logger
	debug    bool
	hideAuth bool
}

// newConn wraps an established network connection. isTLS reflects
// whether nc already carries a completed TLS handshake (implicit TLS).
func newConn(nc net.Conn, rwTimeout time.Duration, trace *Transcript) *Conn {
	c := &Conn{
		conn:      nc,
		r:         bufio.NewReader(nc),
		rwTimeout: rwTimeout,
		trace:     trace,
	}
	_, c.isTLS = nc.(*tls.Conn)
	return c
}

// ReadLine reads a single CRLF-terminated line, tolerating bare LF, and
// returns it with the terminator stripped. The read deadline applies to
// each call individually.
func (c *Conn) ReadLine() (string, error) {
	if c.closed {
		return "", newDialogError(ReasonRead, ErrNoActiveConnection)
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.rwTimeout)); err != nil {
		return "", newDialogError(ReasonRead, err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", newDialogError(ReasonRead, err)
	}
	line = strings.TrimRight(line, "\r\n")
	c.trace.server(line)
	c.debugLog(log.DirServerToClient, "%s", line)
	return line, nil
}

// WriteLine writes a single line, appending CRLF. Lines containing CR
// or LF are rejected before any bytes reach the wire. The write
// deadline applies to each call individually.
func (c *Conn) WriteLine(line string) error {
	if c.closed {
		return newDialogError(ReasonWrite, ErrNoActiveConnection)
	}
	if err := validateLine(line); err != nil {
		return newDialogError(ReasonInvalidArgument, err)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.rwTimeout)); err != nil {
		return newDialogError(ReasonWrite, err)
	}
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		return newDialogError(ReasonWrite, err)
	}
	c.trace.client(line)
	if c.hideAuth {
		c.debugLog(log.DirClientToServer, "%s", HiddenAuthReply)
	} else {
		c.debugLog(log.DirClientToServer, "%s", line)
	}
	return nil
}

// StartTLS upgrades the established plaintext socket to TLS in place.
// The socket must be plaintext and no bytes may be buffered beyond the
// server's STARTTLS reply.
func (c *Conn) StartTLS(config *tls.Config) error {
	if c.closed {
		return newDialogError(ReasonCrypto, ErrNoActiveConnection)
	}
	if c.isTLS {
		return newDialogError(ReasonCrypto, errors.New("connection is already encrypted"))
	}
	if c.r.Buffered() > 0 {
		return newDialogError(ReasonCrypto, errors.New("unexpected data buffered before TLS negotiation"))
	}
	c.trace.marker(tlsNegotiationMarker)
	if err := c.conn.SetDeadline(time.Now().Add(c.rwTimeout)); err != nil {
		return newDialogError(ReasonCrypto, err)
	}
	tlsConn := tls.Client(c.conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return newDialogError(ReasonCrypto, err)
	}
	c.conn = tlsConn
	c.r = bufio.NewReader(tlsConn)
	c.isTLS = true
	return nil
}

// Meta returns the negotiated TLS parameters. ok is false until a TLS
// handshake has completed on this connection.
func (c *Conn) Meta() (info CryptoInfo, ok bool) {
	state, ok := c.TLSState()
	if !ok {
		return CryptoInfo{}, false
	}
	return cryptoInfoFromState(*state), true
}

// TLSState returns the raw TLS connection state, for mechanisms that
// need channel binding material.
func (c *Conn) TLSState() (*tls.ConnectionState, bool) {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return nil, false
	}
	state := tc.ConnectionState()
	return &state, true
}

// Close releases the underlying socket. It is idempotent.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// setHideAuth toggles suppression of client payload lines in both the
// transcript and the debug log.
func (c *Conn) setHideAuth(v bool) {
	c.hideAuth = v
	c.trace.hideClient = v
}

// setLogger wires the debug logger used for per-line dialogue logging.
func (c *Conn) setLogger(l log.Logger, debug bool) {
	c.logger = l
	c.debug = debug
}

// debugLog emits a per-line debug record when debug logging is enabled.
func (c *Conn) debugLog(d log.Direction, f string, a ...interface{}) {
	if c.debug && c.logger != nil {
		c.logger.Debugf(log.Log{Direction: d, Format: f, Messages: a})
	}
}
