// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package track

// WriteOption tunes one intercepted call.
type WriteOption func(*writeOptions)

type writeOptions struct {
	origin       any
	hasOrigin    bool
	skip         bool
	arrayFilters []any
	upsert       bool
	returnAfter  bool
	projection   any
	sort         any
	ordered      bool
}

func collect(opts []WriteOption) writeOptions {
	o := writeOptions{ordered: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithOrigin stamps v as the origin of every change of the call. It takes
// precedence over field and tracker origins.
func WithOrigin(v any) WriteOption {
	return func(o *writeOptions) {
		o.origin = v
		o.hasOrigin = true
	}
}

// SkipTracking sends the call to the store untouched.
func SkipTracking() WriteOption {
	return func(o *writeOptions) { o.skip = true }
}

// WithArrayFilters sets the arrayFilters of an update.
func WithArrayFilters(filters ...any) WriteOption {
	return func(o *writeOptions) { o.arrayFilters = append(o.arrayFilters, filters...) }
}

// WithUpsert inserts a document when the filter matches none.
func WithUpsert(upsert bool) WriteOption {
	return func(o *writeOptions) { o.upsert = upsert }
}

// WithReturnAfter makes find-and-modify calls return the updated document.
func WithReturnAfter() WriteOption {
	return func(o *writeOptions) { o.returnAfter = true }
}

// WithProjection limits the fields returned by find-and-modify calls.
func WithProjection(p any) WriteOption {
	return func(o *writeOptions) { o.projection = p }
}

// WithSort picks the document modified by find-and-modify calls.
func WithSort(s any) WriteOption {
	return func(o *writeOptions) { o.sort = s }
}

// WithOrdered sets whether bulk calls stop at the first error. Default true.
func WithOrdered(ordered bool) WriteOption {
	return func(o *writeOptions) { o.ordered = ordered }
}
