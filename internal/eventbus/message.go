/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonyboev-wq/calendarv2/internal/events"
)

// envelope is the wire format shared by the Redis and NATS buses.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

func marshalEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	return &msg, nil
}

// generateNodeID builds a node identity from the hostname plus a random
// suffix so two instances on one host stay distinguishable.
func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "calendar"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func subjectFor(eventType events.EventType) string {
	return "calendar.events." + string(eventType)
}
