// Package qemucli speaks the emulator's qemud "camera" service
// protocol: length-framed messages over a byte pipe, replies prefixed
// with "ok"/"ko" and an optional payload after a ':'.
package qemucli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is the qemud service the camera HAL attaches to.
const ServiceName = "camera"

const lenHeaderSize = 8 // hex-encoded payload length

var (
	ErrBadReply = errors.New("qemucli: malformed reply")
	// ErrQueryFailed carries the device-reported failure of a query.
	ErrQueryFailed = errors.New("qemucli: query failed")
)

// Channel is one attached qemud service channel. Not safe for
// concurrent queries; each backend owns its channel and queries it
// from one goroutine at a time.
type Channel struct {
	conn net.Conn
	log  zerolog.Logger
}

// Dial connects to the emulator host at addr (host:port, or a unix
// socket path starting with '/') and attaches to the camera service,
// optionally scoped by param (e.g. "name=/dev/video0").
func Dial(addr, param string, log zerolog.Logger) (*Channel, error) {
	network := "tcp"
	if strings.HasPrefix(addr, "/") {
		network = "unix"
	}
	conn, err := net.DialTimeout(network, addr, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("qemucli: dial %s: %w", addr, err)
	}
	ch, err := Attach(conn, param, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ch, nil
}

// Attach wraps an established connection and announces the service
// name. Split from Dial so tests can attach over an in-memory pipe.
func Attach(conn net.Conn, param string, log zerolog.Logger) (*Channel, error) {
	service := ServiceName
	if param != "" {
		service = ServiceName + ":" + param
	}
	ch := &Channel{
		conn: conn,
		log:  log.With().Str("qemud", service).Logger(),
	}
	if err := ch.send([]byte(service)); err != nil {
		return nil, fmt.Errorf("qemucli: attach: %w", err)
	}
	return ch, nil
}

// Close shuts the channel down. Safe to call multiple times.
func (c *Channel) Close() error {
	return c.conn.Close()
}

func (c *Channel) send(msg []byte) error {
	hdr := fmt.Sprintf("%08x", len(msg))
	if _, err := c.conn.Write([]byte(hdr)); err != nil {
		return err
	}
	_, err := c.conn.Write(msg)
	return err
}

func (c *Channel) receive() ([]byte, error) {
	hdr := make([]byte, lenHeaderSize)
	if _, err := io.ReadFull(c.conn, hdr); err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(string(hdr), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad length header %q", ErrBadReply, hdr)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(c.conn, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Query sends one query and returns the reply payload (empty for
// plain "ok" replies). A "ko" reply becomes an ErrQueryFailed carrying
// the device's message.
func (c *Channel) Query(query string) ([]byte, error) {
	if err := c.send([]byte(query)); err != nil {
		return nil, fmt.Errorf("qemucli: write %q: %w", queryVerb(query), err)
	}
	reply, err := c.receive()
	if err != nil {
		return nil, fmt.Errorf("qemucli: read reply to %q: %w", queryVerb(query), err)
	}
	if len(reply) < 3 {
		return nil, fmt.Errorf("%w: %d byte reply", ErrBadReply, len(reply))
	}

	var ok bool
	switch {
	case bytes.HasPrefix(reply, []byte("ok")):
		ok = true
	case bytes.HasPrefix(reply, []byte("ko")):
		ok = false
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadReply, reply[:2])
	}

	switch reply[2] {
	case 0:
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrQueryFailed, queryVerb(query))
		}
		return nil, nil
	case ':':
		payload := reply[3:]
		if !ok {
			c.log.Warn().Str("query", queryVerb(query)).
				Bytes("message", payload).Msg("query rejected by device")
			return nil, fmt.Errorf("%w: %q: %s", ErrQueryFailed, queryVerb(query), payload)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: separator 0x%02x", ErrBadReply, reply[2])
	}
}

// queryVerb trims a query to its first token for logs and errors, so
// frame queries do not spill their whole parameter list.
func queryVerb(query string) string {
	if i := strings.IndexByte(query, ' '); i > 0 {
		return query[:i]
	}
	return query
}
