package classifier

import (
	"context"

	"agrolens-go/internal/types"
)

// Classifier returns a ranked prediction list for one frame. Implementations
// may block; they must honour ctx.
type Classifier interface {
	Classify(ctx context.Context, frame types.Frame) ([]types.RawPrediction, error)
}

// Embedded uses predictions the camera host already attached to the frame.
type Embedded struct{}

func (Embedded) Classify(ctx context.Context, frame types.Frame) ([]types.RawPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return frame.Predictions, nil
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, frame types.Frame) ([]types.RawPrediction, error)

func (f Func) Classify(ctx context.Context, frame types.Frame) ([]types.RawPrediction, error) {
	return f(ctx, frame)
}
