// Package framesource supplies camera frames to a door node: a synthetic
// scene generator, and recording and replay of capture files.
package framesource

import (
	"context"
	"errors"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// ErrExhausted is returned by Next when a finite source has no more frames.
var ErrExhausted = errors.New("frame source exhausted")

// Source yields frames one at a time. Next blocks until the next frame is
// due or ctx ends.
type Source interface {
	Next(ctx context.Context) (framecodec.Grid, error)
	Close() error
}
