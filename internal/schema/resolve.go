// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package schema

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/fieldpath"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/validation"
)

// DefaultInfoSuffix is appended to a field name to form its shadow path.
const DefaultInfoSuffix = "Info"

// Field is a resolved tracked field. It is immutable once returned by
// Resolve.
type Field struct {
	Collection string
	Path       fieldpath.Path
	InfoPath   fieldpath.Path
	// HistoryPath is zero when no embedded history is kept.
	HistoryPath fieldpath.Path
	// Arrays lists the array-valued ancestors of Path, outermost first.
	Arrays []fieldpath.Path
	Kind   Kind

	Origin              change.OriginFunc
	OnChange            change.Handler
	Metadata            bson.D
	HistorizeCollection string
	Publish             bool
}

// Notifiable reports whether drained changes can be read for the field.
// Fields below more than one array keep their shadow record but are not
// drained.
func (f Field) Notifiable() bool {
	return len(f.Arrays) <= 1
}

// Consumer reports whether something reads the field's drained changes.
func (f Field) Consumer() bool {
	return f.OnChange != nil || f.HistorizeCollection != "" || f.Publish
}

// Drained reports whether the drain reads and clears the field.
func (f Field) Drained() bool {
	return f.Consumer() && f.Notifiable()
}

// ArrayPath returns the single array ancestor, or the zero path.
func (f Field) ArrayPath() fieldpath.Path {
	if len(f.Arrays) == 0 {
		return fieldpath.Path{}
	}
	return f.Arrays[len(f.Arrays)-1]
}

// Container returns the path of the document holding the field and its
// shadow record. The zero path is the document root.
func (f Field) Container() fieldpath.Path {
	return f.Path.Parent()
}

// Name returns the last segment of the tracked path.
func (f Field) Name() string { return f.Path.Last() }

// InfoName returns the last segment of the shadow path.
func (f Field) InfoName() string { return f.InfoPath.Last() }

// HistoryName returns the last segment of the history path.
func (f Field) HistoryName() string { return f.HistoryPath.Last() }

// ResolveOptions tunes Resolve.
type ResolveOptions struct {
	InfoSuffix    string
	DefaultOrigin change.OriginFunc
}

// Resolve validates the schema and flattens its tracked nodes into fields.
// A node is tracked when Track is set. Tracked embedded documents and
// arrays are tracked as a whole; untracked ones are walked.
func Resolve(s Schema, opts ResolveOptions) ([]Field, error) {
	if err := validation.ValidateStruct(&s); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, err.Error())
	}
	if opts.InfoSuffix == "" {
		opts.InfoSuffix = DefaultInfoSuffix
	}

	r := resolver{collection: s.Collection, opts: opts}
	if err := r.walk(s.Nodes, fieldpath.Path{}, nil); err != nil {
		return nil, err
	}

	for _, f := range r.fields {
		if !f.Notifiable() {
			logging.Warn().
				Str("collection", s.Collection).
				Str("path", f.Path.String()).
				Int("arrays", len(f.Arrays)).
				Msg("Tracked field is nested in more than one array; change notification disabled")
		}
	}
	return r.fields, nil
}

type resolver struct {
	collection string
	opts       ResolveOptions
	fields     []Field
}

func (r *resolver) walk(nodes []*Node, prefix fieldpath.Path, arrays []fieldpath.Path) error {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateField, prefix.Child(n.Name))
		}
		seen[n.Name] = struct{}{}

		path := prefix.Child(n.Name)
		if n.Track != nil {
			r.fields = append(r.fields, r.field(n, path, arrays))
			continue
		}

		switch n.Kind {
		case Embedded:
			if err := r.walk(n.Children, path, arrays); err != nil {
				return err
			}
		case ArrayOfEmbedded:
			nested := make([]fieldpath.Path, 0, len(arrays)+1)
			nested = append(nested, arrays...)
			nested = append(nested, path)
			if err := r.walk(n.Children, path, nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *resolver) field(n *Node, path fieldpath.Path, arrays []fieldpath.Path) Field {
	f := Field{
		Collection:          r.collection,
		Path:                path,
		InfoPath:            path.Parent().Child(n.Name + r.opts.InfoSuffix),
		Arrays:              append([]fieldpath.Path(nil), arrays...),
		Kind:                n.Kind,
		Origin:              n.Track.Origin,
		OnChange:            n.Track.OnChange,
		Metadata:            n.Track.Metadata,
		HistorizeCollection: n.Track.HistorizeCollection,
		Publish:             n.Track.Publish,
	}
	if f.Origin == nil {
		f.Origin = r.opts.DefaultOrigin
	}
	if n.Track.HistorizeField != "" {
		f.HistoryPath = path.Parent().Child(n.Track.HistorizeField)
	}
	return f
}
