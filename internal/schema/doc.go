// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

/*
Package schema declares collection field trees and resolves their tracked
fields.

A Schema is a tree of Nodes of four kinds: Scalar, Embedded, ArrayOfScalar
and ArrayOfEmbedded. Setting Track on a node marks it as tracked. Resolve
walks the tree once and returns a flat list of Field descriptors:

	s := schema.Schema{
	    Collection: "articles",
	    Nodes: []*schema.Node{
	        schema.ScalarNode("code", "string", nil),
	        schema.ScalarNode("status", "string", &schema.TrackOptions{
	            OnChange:            onStatus,
	            HistorizeCollection: "articles_history",
	        }),
	        schema.ArrayNode("array", nil,
	            schema.ScalarNode("code", "string", nil),
	            schema.ScalarNode("status", "string", schema.Track()),
	        ),
	    },
	}
	fields, err := schema.Resolve(s, schema.ResolveOptions{})

Resolution rules:

  - a tracked Embedded or array node is tracked as one unit and not walked
  - an untracked Embedded node is walked
  - an untracked ArrayOfEmbedded node is walked with the array appended to
    the field's Arrays
  - a field below more than one array keeps its shadow record but is not
    drained, and a warning is logged

WithInfoPaths adds the shadow info and history siblings to the tree, and
JSONSchema renders the result as a $jsonSchema collection validator.
*/
package schema
