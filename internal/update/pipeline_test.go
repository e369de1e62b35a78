// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package update

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func extJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		t.Fatalf("marshal ext json: %v", err)
	}
	return string(data)
}

func TestToPipeline_Set(t *testing.T) {
	t.Parallel()

	p, err := ToPipeline(bson.M{"code": "A001"}, bson.M{"$set": bson.M{"status": "rupture"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "status", Value: bson.D{{Key: "$literal", Value: "rupture"}}}}}},
	}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("expected %v, got %v", want, p)
	}
}

func TestToPipeline_Operators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		update bson.D
		want   []string
	}{
		{
			name:   "inc",
			update: bson.D{{Key: "$inc", Value: bson.D{{Key: "stock", Value: 2}}}},
			want:   []string{`"$add"`, `"$ifNull":["$stock",0]`},
		},
		{
			name:   "mul",
			update: bson.D{{Key: "$mul", Value: bson.D{{Key: "price", Value: 1.5}}}},
			want:   []string{`"$multiply"`},
		},
		{
			name:   "min",
			update: bson.D{{Key: "$min", Value: bson.D{{Key: "low", Value: 3}}}},
			want:   []string{`"$lt"`, `"missing"`},
		},
		{
			name:   "max",
			update: bson.D{{Key: "$max", Value: bson.D{{Key: "high", Value: 3}}}},
			want:   []string{`"$gt"`},
		},
		{
			name:   "current date",
			update: bson.D{{Key: "$currentDate", Value: bson.D{{Key: "touchedAt", Value: true}}}},
			want:   []string{`"touchedAt":"$$NOW"`},
		},
		{
			name:   "push each with slice",
			update: bson.D{{Key: "$push", Value: bson.D{{Key: "tags", Value: bson.D{{Key: "$each", Value: bson.A{"a", "b"}}, {Key: "$slice", Value: -5}}}}}},
			want:   []string{`"$concatArrays"`, `"$slice"`},
		},
		{
			name:   "add to set",
			update: bson.D{{Key: "$addToSet", Value: bson.D{{Key: "tags", Value: "a"}}}},
			want:   []string{`"$reduce"`, `"$$this"`},
		},
		{
			name:   "pull condition",
			update: bson.D{{Key: "$pull", Value: bson.D{{Key: "scores", Value: bson.D{{Key: "$gte", Value: 6}}}}}},
			want:   []string{`"$filter"`, `"$gte"`},
		},
		{
			name:   "pull all",
			update: bson.D{{Key: "$pullAll", Value: bson.D{{Key: "tags", Value: bson.A{"a"}}}}},
			want:   []string{`"$filter"`, `"$in"`},
		},
		{
			name:   "pop",
			update: bson.D{{Key: "$pop", Value: bson.D{{Key: "tags", Value: -1}}}},
			want:   []string{`"$slice"`, `"$subtract"`},
		},
		{
			name:   "rename",
			update: bson.D{{Key: "$rename", Value: bson.D{{Key: "state", Value: "status"}}}},
			want:   []string{`"status":{"$cond"`, `"$unset":["state"]`},
		},
		{
			name:   "unset",
			update: bson.D{{Key: "$unset", Value: bson.D{{Key: "status", Value: ""}}}},
			want:   []string{`"$unset":["status"]`},
		},
		{
			name:   "set on insert",
			update: bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "createdBy", Value: "import"}}}},
			want:   []string{`"$_id"`, `"missing"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := ToPipeline(nil, tt.update, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := extJSON(t, p)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("expected %s in %s", w, got)
				}
			}
		})
	}
}

func TestToPipeline_UnsetAfterSet(t *testing.T) {
	t.Parallel()

	p, err := ToPipeline(nil, bson.D{
		{Key: "$unset", Value: bson.D{{Key: "old", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "status", Value: "x"}}},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p) != 2 || p[0][0].Key != "$set" || p[1][0].Key != "$unset" {
		t.Errorf("expected $set then $unset, got %v", p)
	}
}

func TestToPipeline_PositionalFromFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		filter bson.D
		want   []string
		absent []string
	}{
		{
			name: "dotted condition",
			filter: bson.D{
				{Key: "code", Value: "A004"},
				{Key: "array.code", Value: "X100"},
			},
			want: []string{`"$$m2.code"`, `"X100"`},
		},
		{
			name: "elemMatch condition",
			filter: bson.D{
				{Key: "code", Value: "A004"},
				{Key: "array", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
					{Key: "code", Value: "X100"},
					{Key: "qty", Value: bson.D{{Key: "$gt", Value: 0}}},
				}}}},
			},
			want:   []string{`"$$m2.code"`, `"X100"`, `"$gt":["$$m2.qty",{"$literal":0}]`},
			absent: []string{`"$anyElementTrue"`},
		},
		{
			name: "elemMatch inside $and",
			filter: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "code", Value: "A004"}},
				bson.D{{Key: "array", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "code", Value: "X100"}}}}}},
			}}},
			want:   []string{`"$$m2.code"`, `"X100"`},
			absent: []string{`"$anyElementTrue"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := ToPipeline(tt.filter, bson.M{"$set": bson.M{"array.$.status": "valide"}}, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(p) != 1 {
				t.Fatalf("expected one stage, got %d", len(p))
			}
			set := p[0][0].Value.(bson.D)
			if set[0].Key != "array" {
				t.Fatalf("expected array rewritten as a whole, got key %s", set[0].Key)
			}

			got := extJSON(t, p)
			want := append([]string{
				`"$isArray":"$array"`,
				`"$indexOfArray"`,
				`"$range"`,
				`"$mergeObjects":["$$el0",{"status":{"$literal":"valide"}}]`,
			}, tt.want...)
			for _, w := range want {
				if !strings.Contains(got, w) {
					t.Errorf("expected %s in %s", w, got)
				}
			}
			for _, w := range append([]string{`"A004"`}, tt.absent...) {
				if strings.Contains(got, w) {
					t.Errorf("expected no %s in %s", w, got)
				}
			}
		})
	}
}

func TestToPipeline_NumericSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		update bson.D
		want   []string
		absent []string
	}{
		{
			name:   "key on a document or missing field",
			update: bson.D{{Key: "$set", Value: bson.D{{Key: "scores.2024", Value: 5}}}},
			want: []string{
				`"$or":[{"$eq":[{"$type":"$scores"},"object"]},{"$eq":[{"$type":"$scores"},"missing"]}]`,
				`"$mergeObjects":["$$o0",{"2024":{"$literal":5}}]`,
			},
		},
		{
			name:   "index past the end pads the array",
			update: bson.D{{Key: "$set", Value: bson.D{{Key: "scores.3", Value: 5}}}},
			want:   []string{`"$range":[0,{"$max":[{"$size":"$scores"},4]}]`},
		},
		{
			name:   "unset does not pad",
			update: bson.D{{Key: "$unset", Value: bson.D{{Key: "scores.3", Value: ""}}}},
			want:   []string{`"$range":[0,{"$size":"$scores"}]`, `"$unsetField"`},
			absent: []string{`"$max"`},
		},
		{
			name: "positional marker keeps non-arrays unchanged",
			update: bson.D{{Key: "$set", Value: bson.D{
				{Key: "scores.$[].points", Value: 1},
			}}},
			absent: []string{`"$mergeObjects":["$$o`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := ToPipeline(nil, tt.update, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := extJSON(t, p)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("expected %s in %s", w, got)
				}
			}
			for _, w := range tt.absent {
				if strings.Contains(got, w) {
					t.Errorf("expected no %s in %s", w, got)
				}
			}
		})
	}
}

func TestToPipeline_ArrayFilters(t *testing.T) {
	t.Parallel()

	p, err := ToPipeline(
		bson.M{"code": "A004"},
		bson.M{"$set": bson.M{"array.$[elmt].status": "valide"}},
		[]any{bson.M{"elmt.code": bson.M{"$in": bson.A{"X100", "X101"}}}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := extJSON(t, p)
	for _, w := range []string{`"$map"`, `"as":"el0"`, `"$$el0.code"`, `"$in"`} {
		if !strings.Contains(got, w) {
			t.Errorf("expected %s in %s", w, got)
		}
	}
	if strings.Contains(got, `"$range"`) {
		t.Errorf("filtered positional updates should not index elements: %s", got)
	}
}

func TestToPipeline_AllElements(t *testing.T) {
	t.Parallel()

	p, err := ToPipeline(nil, bson.M{"$inc": bson.M{"array.$[].qty": 1}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := extJSON(t, p)
	if !strings.Contains(got, `"$ifNull":["$$el0.qty"`) {
		t.Errorf("expected increment of every element, got %s", got)
	}
	if strings.Contains(got, `"$cond":{"if":{"$eq"`) {
		t.Errorf("expected no element selection, got %s", got)
	}
}

func TestToPipeline_GroupsSameArray(t *testing.T) {
	t.Parallel()

	p, err := ToPipeline(
		bson.M{"array.code": "X100"},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "array.$.status", Value: "valide"}}},
			{Key: "$inc", Value: bson.D{{Key: "array.$.qty", Value: 1}}},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set := p[0][0].Value.(bson.D)
	if len(set) != 1 || set[0].Key != "array" {
		t.Fatalf("expected a single array rewrite, got %v", set)
	}
	got := extJSON(t, set)
	if !strings.Contains(got, `"$let"`) {
		t.Errorf("expected sequential composition, got %s", got)
	}
}

func TestToPipeline_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		filter       any
		update       any
		arrayFilters []any
		want         error
	}{
		{
			name:   "positional without filter",
			filter: bson.M{"code": "A004"},
			update: bson.M{"$set": bson.M{"array.$.status": "x"}},
			want:   ErrPositionalWithoutMatch,
		},
		{
			name:   "unknown operator",
			update: bson.M{"$bit": bson.M{"flags": bson.M{"and": 1}}},
			want:   ErrUnsupportedOperator,
		},
		{
			name:   "missing array filter",
			update: bson.M{"$set": bson.M{"array.$[x].status": "y"}},
			want:   ErrInvalidUpdate,
		},
		{
			name:   "operator value not a document",
			update: bson.M{"$set": "x"},
			want:   ErrInvalidUpdate,
		},
		{
			name:   "replacement document",
			update: bson.M{"code": "A001", "status": "rupture"},
			want:   ErrInvalidUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ToPipeline(tt.filter, tt.update, tt.arrayFilters)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestToPipeline_PipelinePassthrough(t *testing.T) {
	t.Parallel()

	in := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "a", Value: 1}}}},
		{{Key: "$unset", Value: "b"}},
	}
	p, err := ToPipeline(nil, in, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(p, in) {
		t.Errorf("expected pipeline unchanged, got %v", p)
	}
	p[0] = bson.D{}
	if len(in[0]) != 1 || in[0][0].Key != "$set" {
		t.Error("expected a copy of the caller's pipeline")
	}
}

func TestReplacement(t *testing.T) {
	t.Parallel()

	p, err := Replacement(bson.M{"code": "A001", "status": "rupture"}, []string{"statusInfo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := extJSON(t, p)
	for _, w := range []string{`"$replaceWith"`, `"_id":"$_id"`, `"statusInfo":"$statusInfo"`, `"$literal":{"code":"A001"`} {
		if !strings.Contains(got, w) {
			t.Errorf("expected %s in %s", w, got)
		}
	}
	if !IsReplacement(bson.M{"code": "A001"}) || IsReplacement(bson.M{"$set": bson.M{}}) {
		t.Error("unexpected replacement detection")
	}
	if _, err := Replacement(bson.M{"$set": bson.M{"a": 1}}, nil); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("expected ErrInvalidUpdate, got %v", err)
	}
}

func TestMatchExpr(t *testing.T) {
	t.Parallel()

	c, err := MatchExpr("$$e", bson.D{
		{Key: "code", Value: "X100"},
		{Key: "qty", Value: bson.D{{Key: "$lt", Value: 5}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "status", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{"a", "b"}}}}},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := extJSON(t, c)
	for _, w := range []string{`"$$e.code"`, `"$$e.qty"`, `"$lt"`, `"$or"`, `"missing"`, `"$in"`} {
		if !strings.Contains(got, w) {
			t.Errorf("expected %s in %s", w, got)
		}
	}

	if _, err := MatchExpr("", bson.D{{Key: "$where", Value: "1"}}); !errors.Is(err, ErrUnsupportedOperator) {
		t.Errorf("expected ErrUnsupportedOperator, got %v", err)
	}
	if c, _ := MatchExpr("$$e", bson.D{}); c != true {
		t.Errorf("expected empty query to match, got %v", c)
	}
}
