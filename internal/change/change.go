// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

// Package change defines the records exchanged between the tracker, the
// drain coordinator, the ledger and registered callbacks.
package change

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Shadow record field names.
const (
	KeyValue             = "value"
	KeyPreviousValue     = "previousValue"
	KeyUpdatedAt         = "updatedAt"
	KeyPreviousUpdatedAt = "previousUpdatedAt"
	KeyOrigin            = "origin"
	KeyChangePending     = "changePending"
	KeyCorrelationID     = "correlationId"
	KeyItemID            = "itemId"
	KeyMetadata          = "metadata"
)

// Record is the shadow info kept next to a tracked field, as read back by
// the drain. Has* flags distinguish an absent field from a null one.
type Record struct {
	Value             any
	HasValue          bool
	PreviousValue     any
	HasPreviousValue  bool
	UpdatedAt         time.Time
	PreviousUpdatedAt *time.Time
	Origin            any
	ChangePending     bool
	CorrelationID     string
	ItemID            any
	Metadata          bson.M
}

// Change is one drained change of one tracked field.
type Change struct {
	DocumentID any
	Collection string
	Path       string
	Record     Record
}

// Handler receives every drained change of a field for one write, in a
// single batch. The context carries the write's session when there is one.
type Handler func(ctx context.Context, batch []Change) error

// OriginFunc supplies the origin of a write when the caller set none.
type OriginFunc func(ctx context.Context) any

// StaticOrigin returns an OriginFunc that always yields v.
func StaticOrigin(v any) OriginFunc {
	return func(context.Context) any { return v }
}

type rawRecord struct {
	Value             bson.RawValue `bson:"value"`
	PreviousValue     bson.RawValue `bson:"previousValue"`
	UpdatedAt         time.Time     `bson:"updatedAt"`
	PreviousUpdatedAt *time.Time    `bson:"previousUpdatedAt"`
	Origin            bson.RawValue `bson:"origin"`
	ChangePending     bool          `bson:"changePending"`
	CorrelationID     string        `bson:"correlationId"`
	ItemID            bson.RawValue `bson:"itemId"`
	Metadata          bson.M        `bson:"metadata"`
}

// DecodeRecord decodes a shadow record document.
func DecodeRecord(doc bson.Raw) (Record, error) {
	var raw rawRecord
	if err := bson.Unmarshal(doc, &raw); err != nil {
		return Record{}, fmt.Errorf("decode change record: %w", err)
	}

	rec := Record{
		UpdatedAt:         raw.UpdatedAt,
		PreviousUpdatedAt: raw.PreviousUpdatedAt,
		ChangePending:     raw.ChangePending,
		CorrelationID:     raw.CorrelationID,
		Metadata:          raw.Metadata,
	}

	var err error
	if rec.Value, rec.HasValue, err = rawValue(raw.Value); err != nil {
		return Record{}, fmt.Errorf("decode value: %w", err)
	}
	if rec.PreviousValue, rec.HasPreviousValue, err = rawValue(raw.PreviousValue); err != nil {
		return Record{}, fmt.Errorf("decode previousValue: %w", err)
	}
	if rec.Origin, _, err = rawValue(raw.Origin); err != nil {
		return Record{}, fmt.Errorf("decode origin: %w", err)
	}
	if rec.ItemID, _, err = rawValue(raw.ItemID); err != nil {
		return Record{}, fmt.Errorf("decode itemId: %w", err)
	}
	return rec, nil
}

func rawValue(rv bson.RawValue) (any, bool, error) {
	if rv.Type == 0 {
		return nil, false, nil
	}
	if rv.Type == bson.TypeNull {
		return nil, true, nil
	}
	var v any
	if err := rv.Unmarshal(&v); err != nil {
		return nil, false, err
	}
	if dt, ok := v.(bson.DateTime); ok {
		v = dt.Time().UTC()
	}
	return v, true, nil
}
