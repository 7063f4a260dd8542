// Package live maintains the per-case server-push subscription and decodes
// inbound wire messages into typed mutations.
//
// Delivery is at-least-once and unordered relative to the bulk load, so the
// channel never interprets payloads: it only decodes and forwards, leaving
// idempotent application to the consumer. On transport error the channel
// reports the failure and stops; reconnection policy belongs to the caller.
package live

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/emberwatch/ember/internal/logging"
)

const defaultBuffer = 256

// ErrChannelClosed is reported when the stream ends because Close was called.
var ErrChannelClosed = errors.New("live channel closed")

// Channel reads one SSE stream and emits decoded mutation messages.
type Channel struct {
	body     io.ReadCloser
	messages chan Message
	logger   zerolog.Logger

	mu     sync.Mutex
	err    error
	closed bool
	done   chan struct{}
}

// NewChannel wraps an open SSE response body and starts decoding. The caller
// owns reconnection; a Channel is single-use.
func NewChannel(body io.ReadCloser) *Channel {
	c := &Channel{
		body:     body,
		messages: make(chan Message, defaultBuffer),
		logger:   logging.Component("live-channel"),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Messages returns the stream of decoded mutations. It is closed when the
// transport fails or the channel is closed.
func (c *Channel) Messages() <-chan Message {
	return c.messages
}

// Done is closed once the read loop has stopped.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the transport error that terminated the stream, if any.
// A clean shutdown via Close reports ErrChannelClosed.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears down the subscription. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.body.Close()
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.messages)

	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Bytes()

		// Blank line terminates one SSE frame.
		if len(bytes.TrimSpace(line)) == 0 {
			if data.Len() > 0 {
				c.dispatch(data.Bytes())
				data.Reset()
			}
			continue
		}

		if payload, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(payload, []byte(" ")))
		}
		// event:, id:, retry: and comment lines are irrelevant here.
	}
	if data.Len() > 0 {
		c.dispatch(data.Bytes())
	}

	err := scanner.Err()
	c.mu.Lock()
	switch {
	case c.closed:
		c.err = ErrChannelClosed
	case err != nil:
		c.err = err
	default:
		c.err = io.EOF
	}
	c.mu.Unlock()
}

func (c *Channel) dispatch(data []byte) {
	msg, ok, err := Decode(data)
	if err != nil {
		// A malformed message is dropped; the stream stays open.
		c.logger.Warn().Err(err).Msg("dropping undecodable live message")
		return
	}
	if !ok {
		return
	}
	c.messages <- msg
}
