// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package notify

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/mongotrack/internal/bsonutil"
	"github.com/tomtom215/mongotrack/internal/change"
)

// ChangeEvent is the published payload of one change.
type ChangeEvent struct {
	EventID           string         `json:"eventId"`
	Collection        string         `json:"collection"`
	Path              string         `json:"path"`
	DocumentID        any            `json:"documentId"`
	ItemID            any            `json:"itemId,omitempty"`
	Value             any            `json:"value"`
	PreviousValue     any            `json:"previousValue,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	PreviousUpdatedAt *time.Time     `json:"previousUpdatedAt,omitempty"`
	Origin            any            `json:"origin,omitempty"`
	CorrelationID     string         `json:"correlationId,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// NewChangeEvent converts a change into its JSON-ready event with a fresh
// event ID.
func NewChangeEvent(c change.Change) ChangeEvent {
	ev := ChangeEvent{
		EventID:           uuid.NewString(),
		Collection:        c.Collection,
		Path:              c.Path,
		DocumentID:        bsonutil.Plain(c.DocumentID),
		ItemID:            bsonutil.Plain(c.Record.ItemID),
		Value:             bsonutil.Plain(c.Record.Value),
		PreviousValue:     bsonutil.Plain(c.Record.PreviousValue),
		UpdatedAt:         c.Record.UpdatedAt,
		PreviousUpdatedAt: c.Record.PreviousUpdatedAt,
		Origin:            bsonutil.Plain(c.Record.Origin),
		CorrelationID:     c.Record.CorrelationID,
	}
	if len(c.Record.Metadata) > 0 {
		ev.Metadata, _ = bsonutil.Plain(c.Record.Metadata).(map[string]any)
	}
	return ev
}

// Topic returns the subject of the event: <prefix>.<collection>.<path>.
func (e ChangeEvent) Topic(prefix string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.Collection, e.Path)
}

// Marshal encodes the event as JSON.
func (e ChangeEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal change event: %w", err)
	}
	return data, nil
}

// UnmarshalChangeEvent decodes a published payload.
func UnmarshalChangeEvent(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal change event: %w", err)
	}
	return ev, nil
}
