// Package kvclient implements the client side of the wire protocol (spec.md
// §4.E): each command opens a fresh TCP connection, frames one request,
// and awaits one framed response.
package kvclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lucasalj/kvs/wire"
)

// Default timeouts, per spec.md §5 "Cancellation & timeouts".
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 3 * time.Second
)

// Errors returned by Client methods, per spec.md §4.E's typed-error result
// shape ("io, protocol, server fatal, wrong-message-kind").
var (
	// ErrServerFatal is returned when the server's response status is
	// FatalError.
	ErrServerFatal = errors.New("kvclient: server reported a fatal error")
	// ErrWrongMessageKind is returned when the server's response has a
	// message type the request did not expect.
	ErrWrongMessageKind = errors.New("kvclient: unexpected response message type")
	// ErrKeyNotFound is returned by SendRemove when the server reports the
	// key had no live entry.
	ErrKeyNotFound = errors.New("kvclient: key not found")
)

// Client is constructed with a server address; every Send* call opens its
// own connection.
type Client struct {
	addr           string
	connectTimeout time.Duration
	readTimeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithReadTimeout overrides DefaultReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// New returns a Client targeting addr ("IP:PORT"). No connection is opened
// until the first Send* call.
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:           addr,
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendSet issues a SET(key, value) and reports whether it succeeded.
func (c *Client) SendSet(key, value string) error {
	resp, err := c.roundTrip(wire.ReqSetMsg{Key: key, Value: value})
	if err != nil {
		return err
	}
	m, ok := resp.(wire.RespSetMsg)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrWrongMessageKind, resp)
	}
	return statusToErr(m.Status)
}

// SendGet issues a GET(key). A nil *string with a nil error means the key
// was not found; both KeyNotFound and Ok-with-none statuses map to this,
// per spec.md §4.E.
func (c *Client) SendGet(key string) (*string, error) {
	resp, err := c.roundTrip(wire.ReqGetMsg{Key: key})
	if err != nil {
		return nil, err
	}
	m, ok := resp.(wire.RespGetMsg)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrWrongMessageKind, resp)
	}
	if m.Status == wire.StatusKeyNotFound {
		return nil, nil
	}
	if err := statusToErr(m.Status); err != nil {
		return nil, err
	}
	return m.Value, nil
}

// SendRemove issues a REMOVE(key). ErrKeyNotFound is returned if the server
// reports the key had no live entry.
func (c *Client) SendRemove(key string) error {
	resp, err := c.roundTrip(wire.ReqRemoveMsg{Key: key})
	if err != nil {
		return err
	}
	m, ok := resp.(wire.RespRemoveMsg)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrWrongMessageKind, resp)
	}
	if m.Status == wire.StatusKeyNotFound {
		return ErrKeyNotFound
	}
	return statusToErr(m.Status)
}

func statusToErr(s wire.StatusCode) error {
	switch s {
	case wire.StatusOk:
		return nil
	case wire.StatusKeyNotFound:
		return ErrKeyNotFound
	default:
		return ErrServerFatal
	}
}

func (c *Client) roundTrip(req wire.Message) (wire.Message, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("kvclient: dial %q: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, fmt.Errorf("kvclient: set deadline: %w", err)
	}

	buf := make([]byte, wire.HeaderLen+req.EncodedLen())
	if _, err := wire.EncodeFrame(buf, req); err != nil {
		return nil, fmt.Errorf("kvclient: encode request: %w", err)
	}
	if _, err := conn.Write(buf); err != nil {
		return nil, fmt.Errorf("kvclient: write request: %w", err)
	}

	hdrBuf := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(conn, hdrBuf); err != nil {
		return nil, fmt.Errorf("kvclient: read header: %w", err)
	}
	hdr, err := wire.DecodeHeader(hdrBuf)
	if err != nil {
		return nil, fmt.Errorf("kvclient: decode header: %w", err)
	}

	payload := make([]byte, hdr.PayloadLength)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, fmt.Errorf("kvclient: read payload: %w", err)
	}
	resp, err := wire.DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("kvclient: decode response: %w", err)
	}
	return resp, nil
}
