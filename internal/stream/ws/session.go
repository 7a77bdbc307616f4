package ws

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrConnectionLost means the server ended the stream. The session must
// be closed and a new one dialed.
var ErrConnectionLost = errors.New("ws: connection lost")

const (
	DefaultPort        = 443
	DefaultDialTimeout = 10 * time.Second

	// Once the first byte of a frame is buffered the rest normally follows
	// within one TLS record; this only bounds a server that stalls mid-frame.
	frameReadTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// ConnectError wraps any failure to open a session: TCP, TLS or the
// upgrade itself (then Err is a *HandshakeError).
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return "ws connect " + e.Addr + ": " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// Dialer opens TLS WebSocket sessions to one endpoint.
type Dialer struct {
	Host        string
	Port        int
	Path        string
	TLSConfig   *tls.Config
	DialTimeout time.Duration
}

func (d *Dialer) addr() string {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

func (d *Dialer) hostHeader() string {
	if d.Port == 0 || d.Port == DefaultPort {
		return d.Host
	}
	return d.addr()
}

// Dial connects, performs the upgrade handshake and returns a ready session.
// The whole exchange is bounded by DialTimeout.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	addr := d.addr()
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = d.Host
	}

	td := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	nc, err := td.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
	defer stop()

	key, err := NewKey()
	if err != nil {
		_ = nc.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if err := WriteUpgrade(nc, d.hostHeader(), d.Path, key); err != nil {
		_ = nc.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	br := bufio.NewReaderSize(nc, 8<<10)
	if err := ReadUpgradeResponse(br, key); err != nil {
		_ = nc.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	if !stop() {
		// ctx ended just as the handshake finished and already poisoned the deadline.
		_ = nc.Close()
		return nil, &ConnectError{Addr: addr, Err: ctx.Err()}
	}
	_ = nc.SetDeadline(time.Time{})

	return &Session{id: uuid.NewString(), conn: nc, br: br}, nil
}

// Session is one established stream. It has a single owner: Receive and
// SendPing must not be called concurrently with each other.
type Session struct {
	id   string
	conn net.Conn
	br   *bufio.Reader

	desynced bool

	closeOnce sync.Once
	closeErr  error
}

func (s *Session) ID() string { return s.id }

// SendPing writes a ping frame. Any error means the session is unusable.
func (s *Session) SendPing() error {
	mask, err := newMask()
	if err != nil {
		return err
	}
	return s.write(EncodePing(mask))
}

func (s *Session) write(p []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(p); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

// Receive waits up to timeout for the next text frame.
//
// (nil, nil) means nothing usable arrived this tick: a timeout, a reset or
// broken pipe, a non-text frame or a frame that failed to decode. Only a
// real end of stream returns an error, always wrapping ErrConnectionLost.
func (s *Session) Receive(timeout time.Duration) (*Frame, error) {
	if s.desynced {
		return nil, fmt.Errorf("%w: stream desynchronized by an earlier bad frame", ErrConnectionLost)
	}

	// Peek does not consume, so a timeout here leaves the stream intact.
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	if _, err := s.br.Peek(1); err != nil {
		return nil, classifyReadErr(err)
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
	f, err := ReadFrame(s.br)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		// Part of a frame was consumed; the next header cannot be located.
		s.desynced = true
		return nil, nil
	}

	switch f.Opcode {
	case OpText:
		if !f.Fin {
			return nil, nil
		}
		return &f, nil
	case OpClose:
		return nil, fmt.Errorf("%w: server sent close", ErrConnectionLost)
	case OpPing:
		if mask, err := newMask(); err == nil {
			_ = s.write(EncodeFrame(OpPong, f.Payload, mask))
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func classifyReadErr(err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return nil
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
}

// Close sends a best-effort close frame and closes the socket. Safe to call
// more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if mask, err := newMask(); err == nil {
			_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = s.conn.Write(EncodeFrame(OpClose, []byte{0x03, 0xE8}, mask))
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func newMask() ([4]byte, error) {
	var m [4]byte
	if _, err := rand.Read(m[:]); err != nil {
		return m, fmt.Errorf("ws mask: %w", err)
	}
	return m, nil
}
