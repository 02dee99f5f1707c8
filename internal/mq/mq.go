package mq

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNoChannel is returned when a publish or subscribe names no channel.
var ErrNoChannel = errors.New("event channel is required")

// Message is one delivery from the assignment event stream.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a delivery. A returned error drops the message.
type Handler func(ctx context.Context, msg Message) error

// Backend is a broker transport. Channels fan out: every subscriber
// receives every message published after it subscribed.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ is the broker handle shared by the event publisher and the tail
// command.
type MQ struct {
	backend Backend

	closeOnce sync.Once
	closeErr  error
}

func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Publish sends data to channel and returns the broker's message id.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", ErrNoChannel
	}
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe delivers messages from channel until ctx is done. Cancelling
// ctx ends the subscription without an error.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return ErrNoChannel
	}
	err := m.backend.Subscribe(ctx, channel, handler)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the backend. Later calls return the first result.
func (m *MQ) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.backend.Close()
	})
	return m.closeErr
}
