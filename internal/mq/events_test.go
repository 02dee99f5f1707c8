package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmd/devicetracker/types"
)

type mockBackend struct {
	publishFn   func(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	subscribeFn func(ctx context.Context, channel string, handler Handler) error
	closes      int
}

func (m *mockBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.publishFn(ctx, channel, data, attrs)
}

func (m *mockBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, channel, handler)
	}
	return nil
}

func (m *mockBackend) Close() error {
	m.closes++
	return nil
}

func TestEventPublisher_Notify(t *testing.T) {
	var (
		gotChannel string
		gotMsg     Message
	)
	backend := &mockBackend{
		publishFn: func(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
			gotChannel = channel
			gotMsg = Message{ID: "m-1", Data: data, Attributes: attrs}
			return "m-1", nil
		},
	}
	publisher := NewEventPublisher(New(backend), "device-assignments")

	checkout := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	event := types.AssignmentEvent{
		Type: types.EventCheckedOut,
		Assignment: types.Assignment{
			ID: 3, DeviceID: 41, UserID: "000002",
			DeviceType: types.DeviceTypePaymentTerminal, CheckoutTime: checkout,
		},
		Actor:      "000001",
		OccurredAt: checkout,
	}
	if err := publisher.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	if gotChannel != "device-assignments" {
		t.Errorf("channel = %q, want %q", gotChannel, "device-assignments")
	}
	if gotMsg.Attributes[AttrEventType] != "checked_out" || gotMsg.Attributes[AttrDeviceID] != "41" {
		t.Errorf("attributes = %v", gotMsg.Attributes)
	}

	decoded, err := DecodeEvent(gotMsg)
	if err != nil {
		t.Fatalf("DecodeEvent returned error: %v", err)
	}
	if decoded.Assignment.UserID != "000002" || decoded.Actor != "000001" || !decoded.OccurredAt.Equal(checkout) {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Assignment.CheckinTime != nil {
		t.Error("open assignment decoded with a checkin time")
	}
}

func TestEventPublisher_PublishError(t *testing.T) {
	backend := &mockBackend{
		publishFn: func(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
			return "", errors.New("connection reset")
		},
	}
	publisher := NewEventPublisher(New(backend), "events")
	err := publisher.Notify(context.Background(), types.AssignmentEvent{Type: types.EventCheckedIn})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "checked_out"},
		{name: "unknown type", data: `{"type":"lost"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEvent(Message{ID: "x", Data: []byte(tt.data)}); err == nil {
				t.Error("expected error")
			}
		})
	}
}
