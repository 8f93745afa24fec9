// Package inference wraps the external segmentation engine. The engine is
// opaque compute: an asset reference goes in, mask bytes come out, or the
// call fails with a classified error.
package inference

import (
	"context"
	"errors"
	"fmt"
)

// Engine is the inference surface the worker pool depends on.
type Engine interface {
	// PredictImage produces a single 2D mask (PNG bytes).
	PredictImage(ctx context.Context, inputRef string) ([]byte, error)
	// SegmentBrain produces a brain mask for a 3D scan (NIfTI bytes).
	SegmentBrain(ctx context.Context, scanRef string) ([]byte, error)
	// SegmentAneurysm produces an aneurysm mask for a 3D scan, conditioned on
	// the scan and the brain mask.
	SegmentAneurysm(ctx context.Context, scanRef string, brainMask []byte) ([]byte, error)
}

// EngineError carries the transient/permanent classification. Timeouts and
// engine unavailability are transient; input rejections are permanent.
type EngineError struct {
	Op        string
	Status    int
	Transient bool
	Msg       string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("inference %s: %s (status %d)", e.Op, e.Msg, e.Status)
}

// Reject builds a permanent engine error for input the engine cannot accept.
func Reject(op, msg string) error {
	return &EngineError{Op: op, Msg: msg, Transient: false}
}

// IsPermanent reports whether err is a permanent inference failure. Anything
// not explicitly classified (network errors, storage errors) is treated as
// transient and retried.
func IsPermanent(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return !engineErr.Transient
	}
	return false
}
