package mq

import (
	"context"
	"errors"
	"testing"
)

func TestMQ_RequiresChannel(t *testing.T) {
	m := New(&mockBackend{})
	if _, err := m.Publish(context.Background(), " ", nil, nil); !errors.Is(err, ErrNoChannel) {
		t.Errorf("Publish error = %v, want ErrNoChannel", err)
	}
	if err := m.Subscribe(context.Background(), "", nil); !errors.Is(err, ErrNoChannel) {
		t.Errorf("Subscribe error = %v, want ErrNoChannel", err)
	}
}

func TestMQ_SubscribeCancelIsClean(t *testing.T) {
	backend := &mockBackend{
		subscribeFn: func(ctx context.Context, channel string, handler Handler) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(backend).Subscribe(ctx, "events", nil); err != nil {
		t.Errorf("Subscribe after cancel = %v, want nil", err)
	}

	backend.subscribeFn = func(ctx context.Context, channel string, handler Handler) error {
		return errors.New("connection refused")
	}
	if err := New(backend).Subscribe(context.Background(), "events", nil); err == nil {
		t.Error("expected backend error")
	}
}

func TestMQ_CloseOnce(t *testing.T) {
	backend := &mockBackend{}
	m := New(backend)
	_ = m.Close()
	_ = m.Close()
	if backend.closes != 1 {
		t.Errorf("backend closed %d times, want 1", backend.closes)
	}
}
