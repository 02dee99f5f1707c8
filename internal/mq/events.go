package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dmd/devicetracker/types"
)

const (
	AttrEventType  = "event_type"
	AttrDeviceID   = "device_id"
	AttrDeviceType = "device_type"
)

// EventPublisher publishes assignment events as JSON on one channel.
type EventPublisher struct {
	mq      *MQ
	channel string
}

func NewEventPublisher(m *MQ, channel string) *EventPublisher {
	return &EventPublisher{mq: m, channel: channel}
}

// Notify publishes event. Attributes duplicate the routing fields so
// consumers can filter without decoding the body.
func (p *EventPublisher) Notify(ctx context.Context, event types.AssignmentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	attrs := map[string]string{
		AttrEventType:  string(event.Type),
		AttrDeviceID:   strconv.Itoa(event.Assignment.DeviceID),
		AttrDeviceType: string(event.Assignment.DeviceType),
	}
	if _, err := p.mq.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, p.channel, err)
	}
	return nil
}

// DecodeEvent parses a message published by EventPublisher.
func DecodeEvent(msg Message) (types.AssignmentEvent, error) {
	var event types.AssignmentEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.AssignmentEvent{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	if event.Type != types.EventCheckedOut && event.Type != types.EventCheckedIn {
		return types.AssignmentEvent{}, fmt.Errorf("decode event %s: unknown type %q", msg.ID, event.Type)
	}
	return event, nil
}
