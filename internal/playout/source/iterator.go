// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source implements SourceIterator (spec §4.6): FolderSource,
// PlaylistSource, and the shared gen_source filler policy.
package source

import (
	"context"

	"github.com/ManuGH/xg2g/internal/playout/media"
)

// Iterator produces the next Media in order. Both FolderSource and
// PlaylistSource implement it (spec §4.6: "both expose async next() ->
// Option<Media>"); in Go, exhaustion is represented by (nil, nil) though in
// practice a playout channel's iterator never voluntarily exhausts.
type Iterator interface {
	Next(ctx context.Context) (*media.Media, error)
}
