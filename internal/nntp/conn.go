package nntp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sergeschumacher/hermes/internal/domain"
)

// State tracks where a connection sits in the NNTP session lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateGreeted
	StateAuthenticated
	StateGroupSelected
	StateBusy
	StateClosed
)

// Response codes the client handles explicitly.
const (
	codeGreeting       = 200
	codeGreetingNoPost = 201
	codeGroupSelected  = 211
	codeBodyFollows    = 222
	codeStatOK         = 223
	codeAuthAccepted   = 281
	codeAuthContinue   = 381
	codeNoSuchGroup    = 411
	codeNoSuchArticle  = 430
	codeAuthRequired   = 480
	codeAuthRejected   = 481
)

// Conn is one authenticated NNTP session over a single socket. The protocol
// is strictly request/response: exactly one in-flight command at a time, so
// a Conn must never be shared between tasks. Exclusive ownership between
// pool acquire and release guarantees that.
type Conn struct {
	provider domain.Provider
	timeout  time.Duration

	sock  net.Conn
	br    *bufio.Reader
	bw    *bufio.Writer
	state State
	group string
	dead  bool
}

// Connect dials the provider (TCP, or TLS when configured), checks the
// greeting and authenticates if credentials are present.
func Connect(ctx context.Context, p domain.Provider, timeout time.Duration) (*Conn, error) {
	c := &Conn{provider: p, timeout: timeout, state: StateConnecting}

	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var sock net.Conn
	var err error

	if p.TLS {
		td := &tls.Dialer{
			NetDialer: dialer,
			Config: &tls.Config{
				ServerName: p.Host,
				MinVersion: tls.VersionTLS12,
			},
		}
		sock, err = td.DialContext(ctx, "tcp", p.Addr())
	} else {
		sock, err = dialer.DialContext(ctx, "tcp", p.Addr())
	}
	if err != nil {
		c.state = StateDisconnected
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, p.Addr(), err)
	}

	c.attach(sock)

	if err := c.handshake(); err != nil {
		c.shutdown()
		return nil, err
	}

	return c, nil
}

// NewConn wraps an already-established socket. Used by tests that run the
// session against an in-process server; the caller still drives Handshake.
func NewConn(sock net.Conn, p domain.Provider, timeout time.Duration) *Conn {
	c := &Conn{provider: p, timeout: timeout, state: StateConnecting}
	c.attach(sock)
	return c
}

func (c *Conn) attach(sock net.Conn) {
	c.sock = sock
	c.br = bufio.NewReader(sock)
	c.bw = bufio.NewWriter(sock)
}

// Handshake reads the greeting and authenticates. Exposed for NewConn users.
func (c *Conn) Handshake() error {
	if err := c.handshake(); err != nil {
		c.shutdown()
		return err
	}
	return nil
}

func (c *Conn) handshake() error {
	code, line, err := c.readResponse()
	if err != nil {
		return err
	}
	if code != codeGreeting && code != codeGreetingNoPost {
		return fmt.Errorf("%w: bad greeting: %s", ErrConnection, line)
	}
	c.state = StateGreeted

	if c.provider.Username == "" {
		return nil
	}
	return c.authenticate()
}

// authenticate runs the two-step AUTHINFO exchange. Servers may accept the
// username outright with 281, or demand the password with 381.
func (c *Conn) authenticate() error {
	code, line, err := c.command("AUTHINFO USER %s", c.provider.Username)
	if err != nil {
		return err
	}

	if code == codeAuthContinue {
		code, line, err = c.command("AUTHINFO PASS %s", c.provider.Password)
		if err != nil {
			return err
		}
	}

	switch code {
	case codeAuthAccepted:
		c.state = StateAuthenticated
		return nil
	case codeAuthRequired, codeAuthRejected:
		return fmt.Errorf("%w: %s", ErrAuth, line)
	default:
		return &ProtocolError{Code: code, Line: line}
	}
}

// Group selects a newsgroup for subsequent fetches.
func (c *Conn) Group(name string) error {
	code, line, err := c.command("GROUP %s", name)
	if err != nil {
		return err
	}

	switch code {
	case codeGroupSelected:
		c.state = StateGroupSelected
		c.group = name
		return nil
	case codeNoSuchGroup:
		return ErrGroupNotFound
	case codeAuthRequired, codeAuthRejected:
		return fmt.Errorf("%w: %s", ErrAuth, line)
	default:
		return &ProtocolError{Code: code, Line: line}
	}
}

// Body fetches a raw article body by message-id. The returned bytes run up
// to, and do not include, the CRLF "." CRLF terminator.
func (c *Conn) Body(msgID string) ([]byte, error) {
	code, line, err := c.command("BODY %s", bracket(msgID))
	if err != nil {
		return nil, err
	}

	switch code {
	case codeBodyFollows:
	case codeNoSuchArticle:
		return nil, ErrArticleNotFound
	case codeAuthRequired, codeAuthRejected:
		return nil, fmt.Errorf("%w: %s", ErrAuth, line)
	default:
		return nil, &ProtocolError{Code: code, Line: line}
	}

	prev := c.state
	c.state = StateBusy
	body, err := c.readBody()
	if err != nil {
		return nil, err
	}
	c.state = prev

	return body, nil
}

// Stat checks whether the server carries an article without transferring it.
func (c *Conn) Stat(msgID string) (bool, error) {
	code, line, err := c.command("STAT %s", bracket(msgID))
	if err != nil {
		return false, err
	}

	switch code {
	case codeStatOK:
		return true, nil
	case codeNoSuchArticle:
		return false, ErrArticleNotFound
	case codeAuthRequired, codeAuthRejected:
		return false, fmt.Errorf("%w: %s", ErrAuth, line)
	default:
		return false, &ProtocolError{Code: code, Line: line}
	}
}

// Quit sends QUIT so the server releases its connection slot, then closes
// the socket. Safe to call on a dead connection.
func (c *Conn) Quit() error {
	if c.state == StateClosed {
		return nil
	}
	if !c.dead {
		// Best effort; the socket is going away either way.
		c.sock.SetDeadline(time.Now().Add(2 * time.Second))
		fmt.Fprintf(c.bw, "QUIT\r\n")
		c.bw.Flush()
	}
	return c.shutdown()
}

// Alive reports whether the connection can still carry commands.
func (c *Conn) Alive() bool {
	return !c.dead && c.state != StateClosed && c.state != StateDisconnected
}

// State returns the current session state.
func (c *Conn) State() State { return c.state }

// CurrentGroup returns the selected newsgroup, or "" if none is selected.
func (c *Conn) CurrentGroup() string { return c.group }

// Provider returns the endpoint this connection belongs to.
func (c *Conn) Provider() domain.Provider { return c.provider }

func (c *Conn) shutdown() error {
	c.state = StateClosed
	if c.sock != nil {
		return c.sock.Close()
	}
	return nil
}

// command writes one CRLF-terminated command and reads its status line.
// Commands on a dead connection fail fast instead of hanging on the socket.
func (c *Conn) command(format string, args ...any) (int, string, error) {
	if !c.Alive() {
		return 0, "", fmt.Errorf("%w: connection is dead", ErrConnection)
	}

	c.sock.SetDeadline(time.Now().Add(c.timeout))

	if _, err := fmt.Fprintf(c.bw, format+"\r\n", args...); err != nil {
		return 0, "", c.fail(err)
	}
	if err := c.bw.Flush(); err != nil {
		return 0, "", c.fail(err)
	}

	return c.readResponse()
}

// readResponse reads a single status line and parses the 3-digit code.
func (c *Conn) readResponse() (int, string, error) {
	c.sock.SetDeadline(time.Now().Add(c.timeout))

	raw, err := c.br.ReadString('\n')
	if err != nil {
		return 0, "", c.fail(err)
	}

	line := strings.TrimRight(raw, "\r\n")
	if len(line) < 3 {
		c.dead = true
		return 0, line, &ProtocolError{Line: line}
	}

	code, err := strconv.Atoi(line[:3])
	if err != nil {
		c.dead = true
		return 0, line, &ProtocolError{Line: line}
	}

	return code, line, nil
}

// readBody accumulates a multi-line response. The terminator is the exact
// byte sequence CRLF "." CRLF: a line that is exactly ".". yEnc payloads are
// line-structured (CR and LF are escaped inside the data), so splitting on
// LF cannot fire inside binary content. No dot-unstuffing is applied.
func (c *Conn) readBody() ([]byte, error) {
	var buf bytes.Buffer
	terminator := []byte(".\r\n")

	for {
		c.sock.SetDeadline(time.Now().Add(c.timeout))

		line, err := c.br.ReadBytes('\n')
		if err != nil {
			return nil, c.fail(err)
		}
		if bytes.Equal(line, terminator) {
			return buf.Bytes(), nil
		}
		buf.Write(line)
	}
}

func (c *Conn) fail(err error) error {
	c.dead = true
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func bracket(msgID string) string {
	if strings.HasPrefix(msgID, "<") {
		return msgID
	}
	return "<" + msgID + ">"
}
