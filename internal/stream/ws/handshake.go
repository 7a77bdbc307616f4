package ws

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// HandshakeError reports a server response that did not complete the upgrade.
type HandshakeError struct {
	Status int
	Reason string
}

func (e *HandshakeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ws handshake: status %d: %s", e.Status, e.Reason)
	}
	return "ws handshake: " + e.Reason
}

// NewKey returns a fresh Sec-WebSocket-Key (16 random bytes, base64).
func NewKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("ws key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// AcceptKey computes the Sec-WebSocket-Accept value the server must echo for key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// WriteUpgrade writes the HTTP/1.1 upgrade request.
func WriteUpgrade(w io.Writer, host, path, key string) error {
	if path == "" {
		path = "/"
	}
	var b strings.Builder
	b.WriteString("GET " + path + " HTTP/1.1\r\n")
	b.WriteString("Host: " + host + "\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Key: " + key + "\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	b.WriteString("\r\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("ws upgrade write: %w", err)
	}
	return nil
}

// ReadUpgradeResponse reads the server's reply from br and verifies it.
// Any frames the server sent right after the headers stay buffered in br.
func ReadUpgradeResponse(br *bufio.Reader, key string) error {
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		return &HandshakeError{Reason: "read response: " + err.Error()}
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = resp.Body.Close()
		return &HandshakeError{Status: resp.StatusCode, Reason: "unexpected status " + resp.Status}
	}
	got := resp.Header.Get("Sec-WebSocket-Accept")
	if got != AcceptKey(key) {
		return &HandshakeError{Status: resp.StatusCode, Reason: fmt.Sprintf("accept key mismatch (got %q)", got)}
	}
	return nil
}
