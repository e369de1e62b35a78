// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package track

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/notify"
	"github.com/tomtom215/mongotrack/internal/schema"
	"github.com/tomtom215/mongotrack/internal/store/storetest"
	"github.com/tomtom215/mongotrack/internal/update"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	batches [][]change.Change
}

func (r *recorder) handle(_ context.Context, batch []change.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func articleSchema(onStatus change.Handler) schema.Schema {
	return schema.Schema{
		Collection: "articles",
		Nodes: []*schema.Node{
			schema.ScalarNode("code", "string", nil),
			schema.ScalarNode("status", "string", &schema.TrackOptions{
				OnChange:            onStatus,
				HistorizeCollection: "status_hist",
			}),
			schema.ScalarNode("label", "string", schema.Track()),
			schema.ArrayNode("lines", nil,
				schema.ScalarNode("quantity", "int", &schema.TrackOptions{
					Origin: change.StaticOrigin("lines"),
				}),
			),
		},
	}
}

func newArticles(t *testing.T, opts ...Option) (*storetest.Database, *Collection) {
	t.Helper()
	db := storetest.NewDatabase("shop")
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	tr := New(db, opts...)
	c, err := tr.Register(articleSchema((&recorder{}).handle))
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	return db, c
}

func extJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		t.Fatalf("marshal ext json: %v", err)
	}
	return string(data)
}

func setStatus(v string) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: v}}}}
}

func TestTracker_Registry(t *testing.T) {
	t.Parallel()

	db := storetest.NewDatabase("shop")
	tr := New(db)
	if _, err := tr.Register(articleSchema(nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.Register(schema.Schema{Collection: "orders"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := tr.Register(articleSchema(nil)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
	if _, err := tr.Collection("missing"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
	c, err := tr.Collection("articles")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name() != "articles" {
		t.Errorf("expected articles, got %s", c.Name())
	}
	if got := len(c.Fields()); got != 3 {
		t.Errorf("expected 3 fields, got %d", got)
	}
	if got := tr.Names(); !reflect.DeepEqual(got, []string{"articles", "orders"}) {
		t.Errorf("expected [articles orders], got %v", got)
	}
}

func TestTracker_RegisterInvalid(t *testing.T) {
	t.Parallel()

	tr := New(storetest.NewDatabase("shop"))
	_, err := tr.Register(schema.Schema{
		Collection: "articles",
		Nodes: []*schema.Node{
			schema.ScalarNode("status", "string", nil),
			schema.ScalarNode("status", "string", nil),
		},
	})
	if !errors.Is(err, schema.ErrDuplicateField) {
		t.Errorf("expected ErrDuplicateField, got %v", err)
	}
}

func TestCollection_UpdateOne(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t)
	filter := bson.D{{Key: "code", Value: "A001"}}
	res, err := c.UpdateOne(context.Background(), filter, setStatus("rupture"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ModifiedCount != 1 {
		t.Errorf("expected 1 modified, got %d", res.ModifiedCount)
	}

	coll := db.Coll("articles")
	updates := coll.Calls("UpdateOne")
	if len(updates) != 1 {
		t.Fatalf("expected 1 UpdateOne, got %d", len(updates))
	}
	p, ok := updates[0].Update.(mongo.Pipeline)
	if !ok {
		t.Fatalf("expected a pipeline update, got %T", updates[0].Update)
	}
	if len(p) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(p))
	}
	changeSet := extJSON(t, p[1])
	if !strings.Contains(changeSet, `"statusInfo"`) {
		t.Errorf("expected change set on statusInfo, got %s", changeSet)
	}
	if strings.Contains(changeSet, `"labelInfo"`) {
		t.Errorf("expected untouched label to be left out, got %s", changeSet)
	}
	if !strings.Contains(changeSet, `"correlationId"`) {
		t.Errorf("expected a correlation id, got %s", changeSet)
	}
	if updates[0].UpdateOpts.ArrayFilters != nil {
		t.Errorf("expected array filters to be consumed, got %v", updates[0].UpdateOpts.ArrayFilters)
	}

	if got := len(coll.Calls("Aggregate")); got != 1 {
		t.Errorf("expected the drain to run once, got %d", got)
	}
}

func TestCollection_UpdateOne_Untouched(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		update bson.D
		opts   []WriteOption
	}{
		{
			name:   "untracked field",
			update: bson.D{{Key: "$set", Value: bson.D{{Key: "code", Value: "B002"}}}},
		},
		{
			name:   "skip tracking",
			update: setStatus("rupture"),
			opts:   []WriteOption{SkipTracking()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db, c := newArticles(t)
			if _, err := c.UpdateOne(context.Background(), bson.D{}, tt.update, tt.opts...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			coll := db.Coll("articles")
			updates := coll.Calls("UpdateOne")
			if len(updates) != 1 {
				t.Fatalf("expected 1 UpdateOne, got %d", len(updates))
			}
			if !reflect.DeepEqual(updates[0].Update, tt.update) {
				t.Errorf("expected update unchanged, got %v", updates[0].Update)
			}
			if got := len(coll.Calls("Aggregate")); got != 0 {
				t.Errorf("expected no drain, got %d", got)
			}
		})
	}
}

func TestCollection_UpdateMany_NothingModified(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t)
	coll := db.Coll("articles")
	coll.UpdateResult = &mongo.UpdateResult{MatchedCount: 2}

	if _, err := c.UpdateMany(context.Background(), bson.D{}, setStatus("rupture")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(coll.Calls("UpdateMany")); got != 1 {
		t.Errorf("expected 1 UpdateMany, got %d", got)
	}
	if got := len(coll.Calls("Aggregate")); got != 0 {
		t.Errorf("expected no drain, got %d", got)
	}
}

func TestCollection_UpdateOne_NoConsumer(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t)
	u := bson.D{{Key: "$set", Value: bson.D{{Key: "label", Value: "Chair"}}}}
	if _, err := c.UpdateOne(context.Background(), bson.D{}, u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coll := db.Coll("articles")
	if _, ok := coll.Calls("UpdateOne")[0].Update.(mongo.Pipeline); !ok {
		t.Errorf("expected the label change set to be applied")
	}
	if got := len(coll.Calls("Aggregate")); got != 0 {
		t.Errorf("expected no drain for a field without consumer, got %d", got)
	}
}

func TestCollection_UpdateOne_Errors(t *testing.T) {
	t.Parallel()

	t.Run("rewrite", func(t *testing.T) {
		t.Parallel()
		db, c := newArticles(t)
		u := bson.D{{Key: "$set", Value: bson.D{{Key: "lines.$.quantity", Value: 3}}}}
		_, err := c.UpdateOne(context.Background(), bson.D{{Key: "code", Value: "A004"}}, u)
		if !errors.Is(err, update.ErrPositionalWithoutMatch) {
			t.Errorf("expected ErrPositionalWithoutMatch, got %v", err)
		}
		if got := len(db.Coll("articles").Calls("UpdateOne")); got != 0 {
			t.Errorf("expected no write, got %d", got)
		}
	})

	t.Run("replacement document", func(t *testing.T) {
		t.Parallel()
		db, c := newArticles(t)
		u := bson.D{{Key: "code", Value: "A001"}, {Key: "status", Value: "rupture"}}
		_, err := c.UpdateMany(context.Background(), bson.D{{Key: "code", Value: "A001"}}, u)
		if !errors.Is(err, update.ErrInvalidUpdate) {
			t.Errorf("expected ErrInvalidUpdate, got %v", err)
		}
		if got := len(db.Coll("articles").Calls("UpdateMany")); got != 0 {
			t.Errorf("expected no write, got %d", got)
		}
	})

	t.Run("drain", func(t *testing.T) {
		t.Parallel()
		db, c := newArticles(t)
		db.Coll("articles").Errors["Aggregate"] = errors.New("connection reset")
		res, err := c.UpdateOne(context.Background(), bson.D{}, setStatus("rupture"))
		var drainErr *notify.DrainError
		if !errors.As(err, &drainErr) {
			t.Fatalf("expected a DrainError, got %v", err)
		}
		if drainErr.Stage != notify.StageFind {
			t.Errorf("expected stage %s, got %s", notify.StageFind, drainErr.Stage)
		}
		if res == nil || res.ModifiedCount != 1 {
			t.Errorf("expected the write result alongside the error, got %v", res)
		}
	})
}

func TestCollection_OriginPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tracker []Option
		opts    []WriteOption
		want    string
		absent  string
	}{
		{
			name:    "call origin wins",
			tracker: []Option{WithDefaultOrigin(change.StaticOrigin("default"))},
			opts:    []WriteOption{WithOrigin("backoffice")},
			want:    "backoffice",
			absent:  "default",
		},
		{
			name:    "tracker default",
			tracker: []Option{WithDefaultOrigin(change.StaticOrigin("default"))},
			want:    "default",
		},
		{
			name:   "none",
			absent: `"origin"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db, c := newArticles(t, tt.tracker...)
			if _, err := c.UpdateOne(context.Background(), bson.D{}, setStatus("rupture"), tt.opts...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			p := db.Coll("articles").Calls("UpdateOne")[0].Update.(mongo.Pipeline)
			got := extJSON(t, p[len(p)-1])
			if tt.want != "" && !strings.Contains(got, tt.want) {
				t.Errorf("expected origin %s, got %s", tt.want, got)
			}
			if tt.absent != "" && strings.Contains(got, tt.absent) {
				t.Errorf("expected no %s, got %s", tt.absent, got)
			}
		})
	}
}

func TestCollection_FieldOriginOverridesDefault(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t, WithDefaultOrigin(change.StaticOrigin("default")))
	u := bson.D{{Key: "$set", Value: bson.D{{Key: "lines.$[].quantity", Value: 0}}}}
	if _, err := c.UpdateOne(context.Background(), bson.D{}, u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := db.Coll("articles").Calls("UpdateOne")[0].Update.(mongo.Pipeline)
	got := extJSON(t, p[len(p)-1])
	if !strings.Contains(got, `{"$literal":"lines"}`) || strings.Contains(got, `"default"`) {
		t.Errorf("expected field origin lines, got %s", got)
	}
}

func TestCollection_InsertOne(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t)
	doc := bson.D{{Key: "code", Value: "A001"}, {Key: "status", Value: "disponible"}}
	res, err := c.InsertOne(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coll := db.Coll("articles")
	inserted := coll.Calls("InsertOne")[0].Docs[0].(bson.D)
	if inserted[0].Key != "_id" || inserted[0].Value != res.InsertedID {
		t.Errorf("expected a generated _id first, got %v", inserted[0])
	}
	info, ok := subDoc(inserted, "statusInfo")
	if !ok {
		t.Fatalf("expected statusInfo in %v", inserted)
	}
	if v := value(info, "value"); v != "disponible" {
		t.Errorf("expected value disponible, got %v", v)
	}
	if v, ok := value(info, "updatedAt").(time.Time); !ok || !v.Equal(t0) {
		t.Errorf("expected updatedAt %v, got %v", t0, v)
	}
	if v := value(info, "changePending"); v != false {
		t.Errorf("expected changePending false, got %v", v)
	}
	if _, ok := subDoc(inserted, "labelInfo"); ok {
		t.Errorf("expected no record for an absent field")
	}
	if len(doc) != 2 {
		t.Errorf("expected caller document unchanged, got %v", doc)
	}
	if got := len(coll.Calls("Aggregate")); got != 0 {
		t.Errorf("expected no drain, got %d", got)
	}
}

func TestCollection_InsertMany_NotifyOnInsert(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t, WithNotifyOnInsert(true))
	docs := []any{
		bson.D{{Key: "_id", Value: "A001"}, {Key: "status", Value: "disponible"}},
		bson.M{"_id": "A002", "status": "rupture"},
	}
	if _, err := c.InsertMany(context.Background(), docs, WithOrdered(false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coll := db.Coll("articles")
	call := coll.Calls("InsertMany")[0]
	if call.Ordered {
		t.Errorf("expected unordered insert")
	}
	for i, d := range call.Docs {
		info, ok := subDoc(d.(bson.D), "statusInfo")
		if !ok {
			t.Fatalf("document %d: expected statusInfo", i)
		}
		if v := value(info, "changePending"); v != true {
			t.Errorf("document %d: expected changePending true, got %v", i, v)
		}
	}

	aggs := coll.Calls("Aggregate")
	if len(aggs) != 1 {
		t.Fatalf("expected the drain to run once, got %d", len(aggs))
	}
	match := extJSON(t, aggs[0].Pipeline)
	if !strings.Contains(match, `"$in":["A001","A002"]`) {
		t.Errorf("expected the drain scoped to the inserted ids, got %s", match)
	}
}

func TestCollection_FindOneAndUpdate(t *testing.T) {
	t.Parallel()

	t.Run("no match", func(t *testing.T) {
		t.Parallel()
		db, c := newArticles(t)
		doc, err := c.FindOneAndUpdate(context.Background(), bson.D{}, setStatus("rupture"), WithReturnAfter())
		if err != nil || doc != nil {
			t.Fatalf("expected nil document and error, got %v, %v", doc, err)
		}
		coll := db.Coll("articles")
		if !coll.Calls("FindOneAndUpdate")[0].FindOneOpts.ReturnAfter {
			t.Errorf("expected ReturnAfter forwarded")
		}
		if got := len(coll.Calls("Aggregate")); got != 0 {
			t.Errorf("expected no drain, got %d", got)
		}
	})

	t.Run("match", func(t *testing.T) {
		t.Parallel()
		db, c := newArticles(t)
		coll := db.Coll("articles")
		coll.FindOneAndUpdateResults = []bson.Raw{storetest.MustRaw(bson.D{{Key: "_id", Value: "A001"}})}
		doc, err := c.FindOneAndUpdate(context.Background(), bson.D{}, setStatus("rupture"))
		if err != nil || doc == nil {
			t.Fatalf("expected a document, got %v, %v", doc, err)
		}
		if _, ok := coll.Calls("FindOneAndUpdate")[0].Update.(mongo.Pipeline); !ok {
			t.Errorf("expected a pipeline update")
		}
		if got := len(coll.Calls("Aggregate")); got != 1 {
			t.Errorf("expected the drain to run once, got %d", got)
		}
	})

	t.Run("upsert without returned document", func(t *testing.T) {
		t.Parallel()
		db, c := newArticles(t)
		coll := db.Coll("articles")
		doc, err := c.FindOneAndUpdate(context.Background(), bson.D{{Key: "code", Value: "A009"}}, setStatus("rupture"), WithUpsert(true))
		if err != nil || doc != nil {
			t.Fatalf("expected nil document and error, got %v, %v", doc, err)
		}
		if !coll.Calls("FindOneAndUpdate")[0].FindOneOpts.Upsert {
			t.Errorf("expected Upsert forwarded")
		}
		if got := len(coll.Calls("Aggregate")); got != 1 {
			t.Errorf("expected the drain to run once, got %d", got)
		}
	})
}

func TestCollection_FindOneAndReplace_UpsertDrains(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t)
	replacement := bson.D{{Key: "code", Value: "A009"}, {Key: "status", Value: "rupture"}}
	doc, err := c.FindOneAndReplace(context.Background(), bson.D{{Key: "code", Value: "A009"}}, replacement, WithUpsert(true))
	if err != nil || doc != nil {
		t.Fatalf("expected nil document and error, got %v, %v", doc, err)
	}
	if got := len(db.Coll("articles").Calls("Aggregate")); got != 1 {
		t.Errorf("expected the drain to run once, got %d", got)
	}
}

func TestCollection_FindOneAndReplace(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t)
	coll := db.Coll("articles")
	coll.FindOneAndUpdateResults = []bson.Raw{storetest.MustRaw(bson.D{{Key: "_id", Value: "A001"}})}

	replacement := bson.D{{Key: "code", Value: "A001"}, {Key: "status", Value: "rupture"}}
	if _, err := c.FindOneAndReplace(context.Background(), bson.D{{Key: "code", Value: "A001"}}, replacement); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := coll.Calls("FindOneAndUpdate")[0].Update.(mongo.Pipeline)
	if !ok || len(p) != 2 {
		t.Fatalf("expected a 2 stage pipeline, got %v", coll.Calls("FindOneAndUpdate")[0].Update)
	}
	if p[0][0].Key != "$replaceWith" {
		t.Errorf("expected $replaceWith first, got %s", p[0][0].Key)
	}
	kept := extJSON(t, p[0])
	for _, k := range []string{`"statusInfo":"$statusInfo"`, `"labelInfo":"$labelInfo"`} {
		if !strings.Contains(kept, k) {
			t.Errorf("expected %s kept, got %s", k, kept)
		}
	}
	if got := len(coll.Calls("Aggregate")); got != 1 {
		t.Errorf("expected the drain to run once, got %d", got)
	}
}

func TestCollection_Pending(t *testing.T) {
	t.Parallel()

	db, c := newArticles(t)
	db.Coll("articles").Count = 4
	n, err := c.Pending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4, got %d", n)
	}
}

func value(d bson.D, key string) any {
	for _, e := range d {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

func subDoc(d bson.D, key string) (bson.D, bool) {
	v, ok := value(d, key).(bson.D)
	return v, ok
}

func TestTracker_DrainAll(t *testing.T) {
	t.Parallel()

	db := storetest.NewDatabase("shop")
	tr := New(db)
	if _, err := tr.Register(articleSchema((&recorder{}).handle)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.Register(schema.Schema{Collection: "orders"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := tr.DrainAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(db.Coll("articles").Calls("Aggregate")); got != 1 {
		t.Errorf("expected articles drained once, got %d", got)
	}
	if got := len(db.Coll("orders").Calls()); got != 0 {
		t.Errorf("expected orders skipped, got %d calls", got)
	}

	db.Coll("articles").Errors["Aggregate"] = errors.New("cursor killed")
	_, err := tr.DrainAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "drain articles") {
		t.Errorf("expected an error naming articles, got %v", err)
	}
}
