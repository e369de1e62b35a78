// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package ledger

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/store/storetest"
)

var (
	t0  = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func extJSON(t *testing.T, v any) string {
	t.Helper()
	out, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return string(out)
}

func keys(d bson.D) []string {
	out := make([]string, len(d))
	for i, e := range d {
		out[i] = e.Key
	}
	return out
}

func statusChange() change.Change {
	return change.Change{
		DocumentID: "A001",
		Collection: "articles",
		Path:       "status",
		Record: change.Record{
			Value:            "rupture",
			HasValue:         true,
			PreviousValue:    "disponible",
			HasPreviousValue: true,
			UpdatedAt:        t0,
			Origin:           "api",
		},
	}
}

func TestBuildOperations(t *testing.T) {
	t.Parallel()

	ops := BuildOperations(statusChange(), now)
	if len(ops) != 2 {
		t.Fatalf("expected close and insert, got %d models", len(ops))
	}

	closeRow, ok := ops[0].(*mongo.UpdateManyModel)
	if !ok {
		t.Fatalf("expected close to be an UpdateManyModel, got %T", ops[0])
	}
	wantFilter := bson.D{{Key: "entityId", Value: "A001"}, {Key: "path", Value: "status"}, {Key: "end", Value: nil}}
	if !reflect.DeepEqual(closeRow.Filter, wantFilter) {
		t.Errorf("expected close filter %v, got %v", wantFilter, closeRow.Filter)
	}
	update := extJSON(t, closeRow.Update)
	for _, want := range []string{
		`"nextValue":{"$literal":"rupture"}`,
		`"startDate":"$start"`,
		`"unit":"millisecond"`,
	} {
		if !strings.Contains(update, want) {
			t.Errorf("expected %s in close pipeline %s", want, update)
		}
	}

	insert, ok := ops[1].(*mongo.InsertOneModel)
	if !ok {
		t.Fatalf("expected insert to be an InsertOneModel, got %T", ops[1])
	}
	row := insert.Document.(bson.D)
	wantKeys := []string{"entityId", "path", "start", "end", "value", "previousValue", "origin"}
	if !reflect.DeepEqual(keys(row), wantKeys) {
		t.Errorf("expected row keys %v, got %v", wantKeys, keys(row))
	}
	if row[2].Value != t0 {
		t.Errorf("expected start %v from updatedAt, got %v", t0, row[2].Value)
	}
	if row[3].Value != nil {
		t.Errorf("expected open row, got end %v", row[3].Value)
	}
}

func TestBuildOperations_ItemAndMetadata(t *testing.T) {
	t.Parallel()

	c := statusChange()
	c.Path = "array.status"
	c.Record.ItemID = "X100"
	c.Record.UpdatedAt = time.Time{}
	c.Record.HasPreviousValue = false
	c.Record.Origin = nil
	c.Record.Metadata = bson.M{"code": "X100"}

	ops := BuildOperations(c, now)
	filter := ops[0].(*mongo.UpdateManyModel).Filter.(bson.D)
	if want := []string{"entityId", "itemId", "path", "end"}; !reflect.DeepEqual(keys(filter), want) {
		t.Errorf("expected filter keys %v, got %v", want, keys(filter))
	}
	row := ops[1].(*mongo.InsertOneModel).Document.(bson.D)
	if want := []string{"entityId", "itemId", "path", "start", "end", "value", "metadata"}; !reflect.DeepEqual(keys(row), want) {
		t.Errorf("expected row keys %v, got %v", want, keys(row))
	}
	if row[3].Value != now {
		t.Errorf("expected start to fall back to now, got %v", row[3].Value)
	}
}

func TestBuildOperations_NoValue(t *testing.T) {
	t.Parallel()

	c := statusChange()
	c.Record.HasValue = false
	if ops := BuildOperations(c, now); ops != nil {
		t.Errorf("expected no operations, got %d", len(ops))
	}
}

func TestBuildOperations_NullValue(t *testing.T) {
	t.Parallel()

	c := statusChange()
	c.Record.Value = nil
	if ops := BuildOperations(c, now); len(ops) != 2 {
		t.Errorf("expected a null value to be recorded, got %d operations", len(ops))
	}
}

func TestWriter_Append(t *testing.T) {
	t.Parallel()

	db := storetest.NewDatabase("shop")
	w := NewWriter(db, WithPrefix("hist_"), WithClock(func() time.Time { return now }))

	second := statusChange()
	second.DocumentID = "A002"
	skipped := statusChange()
	skipped.Record.HasValue = false

	n, err := w.Append(context.Background(), "status", []change.Change{statusChange(), skipped, second})
	if err != nil {
		t.Fatalf("expected append to succeed, got %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows opened, got %d", n)
	}

	calls := db.Coll("hist_status").Calls("BulkWrite")
	if len(calls) != 1 {
		t.Fatalf("expected one bulk write, got %d", len(calls))
	}
	if !calls[0].Ordered {
		t.Error("expected an ordered bulk write")
	}
	if len(calls[0].Models) != 4 {
		t.Errorf("expected 4 models, got %d", len(calls[0].Models))
	}
	if _, ok := calls[0].Models[0].(*mongo.UpdateManyModel); !ok {
		t.Errorf("expected close before insert, got %T first", calls[0].Models[0])
	}
}

func TestWriter_Append_Empty(t *testing.T) {
	t.Parallel()

	db := storetest.NewDatabase("shop")
	n, err := NewWriter(db).Append(context.Background(), "status", nil)
	if err != nil || n != 0 {
		t.Errorf("expected no-op, got %d, %v", n, err)
	}
	if calls := db.Coll("status").Calls(); len(calls) != 0 {
		t.Errorf("expected no driver calls, got %d", len(calls))
	}
}

func TestWriter_Append_Error(t *testing.T) {
	t.Parallel()

	db := storetest.NewDatabase("shop")
	boom := errors.New("bulk write failed")
	db.Coll("status").Errors["BulkWrite"] = boom

	_, err := NewWriter(db).Append(context.Background(), "status", []change.Change{statusChange()})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped bulk error, got %v", err)
	}
}

func TestWriter_EnsureIndexes(t *testing.T) {
	t.Parallel()

	db := storetest.NewDatabase("shop")
	if err := NewWriter(db).EnsureIndexes(context.Background(), "status"); err != nil {
		t.Fatalf("expected indexes, got %v", err)
	}
	calls := db.Coll("status").Calls("CreateIndexes")
	if len(calls) != 1 || len(calls[0].Indexes) != 2 {
		t.Fatalf("expected two indexes in one call, got %+v", calls)
	}
	if got := keys(calls[0].Indexes[0].Keys.(bson.D)); !reflect.DeepEqual(got, []string{"entityId", "path", "itemId", "end"}) {
		t.Errorf("expected open-row index, got %v", got)
	}
}

func TestReader_History(t *testing.T) {
	t.Parallel()

	db := storetest.NewDatabase("shop")
	end := t0.Add(time.Hour)
	dur := int64(time.Hour / time.Millisecond)
	db.Coll("status").FindResults = [][]bson.Raw{{
		storetest.MustRaw(bson.D{
			{Key: "entityId", Value: "A001"},
			{Key: "path", Value: "status"},
			{Key: "start", Value: t0},
			{Key: "end", Value: end},
			{Key: "value", Value: "disponible"},
			{Key: "nextValue", Value: "rupture"},
			{Key: "duration", Value: dur},
		}),
	}}

	rows, err := NewReader(db, "").History(context.Background(), "status", Query{
		EntityID: "A001",
		Path:     "status",
		Since:    t0.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("expected history, got %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.EntityID != "A001" || r.Value != "disponible" || r.NextValue != "rupture" {
		t.Errorf("unexpected row %+v", r)
	}
	if r.End == nil || !r.End.Equal(end) {
		t.Errorf("expected end %v, got %v", end, r.End)
	}
	if r.Duration == nil || *r.Duration != dur {
		t.Errorf("expected duration %d, got %v", dur, r.Duration)
	}

	call := db.Coll("status").Calls("Find")[0]
	if want := []string{"entityId", "path", "start"}; !reflect.DeepEqual(keys(call.Filter.(bson.D)), want) {
		t.Errorf("expected filter keys %v, got %v", want, keys(call.Filter.(bson.D)))
	}
	if call.FindOpts.Limit != DefaultLimit {
		t.Errorf("expected default limit, got %d", call.FindOpts.Limit)
	}
}

func TestReader_Open(t *testing.T) {
	t.Parallel()

	db := storetest.NewDatabase("shop")
	if _, err := NewReader(db, "hist_").Open(context.Background(), "status", Query{}); err != nil {
		t.Fatalf("expected open rows, got %v", err)
	}
	call := db.Coll("hist_status").Calls("Find")[0]
	want := bson.D{{Key: "end", Value: nil}}
	if !reflect.DeepEqual(call.Filter, want) {
		t.Errorf("expected filter %v, got %v", want, call.Filter)
	}
}
