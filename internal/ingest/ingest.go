package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"agrolens-go/internal/monitoring"
	"agrolens-go/internal/types"
)

// RawRecorder receives every undecoded message, e.g. a raw log on disk.
type RawRecorder interface {
	Record(payload []byte) error
}

const recvTimeout = 250 * time.Millisecond

var decodeFailures atomic.Uint64

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Stream returns a channel of messages from a camera host.
// Expects CBOR messages shaped like:
// { "type": "frame", "frame_id": <int>, "timestamp": <float>, "width": <int>, "height": <int>,
//   "ready": <bool>, "pixels": <tag 40 [[h, w, c], tag 64 bytes]>, "predictions": [{"label", "confidence"}] }
// plus { "type": "start" | "end", ... } session markers.
func Stream(ctx context.Context, endpoint string) (<-chan types.RawMessage, error) {
	return StreamWithLogEveryAndRecorder(ctx, endpoint, 1, nil)
}

func StreamWithLogEveryAndRecorder(ctx context.Context, endpoint string, logEvery int, recorder RawRecorder) (<-chan types.RawMessage, error) {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	logger := monitoring.NewEveryN(logEvery)
	out := make(chan types.RawMessage, 16)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				logger.Logf("ingest recv error: %v", err)
				continue
			}

			if recorder != nil {
				if err := recorder.Record(msg); err != nil {
					logger.Logf("ingest raw log error: %v", err)
				}
			}

			raw, ok := decodeMessage(msg, logger)
			if !ok {
				decodeFailures.Add(1)
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- raw:
			}
		}
	}()

	return out, nil
}

// DecodeFailures is the number of messages dropped since process start.
func DecodeFailures() uint64 {
	return decodeFailures.Load()
}

// Decode parses one message outside of a live stream (replay tools).
func Decode(msg []byte) (types.RawMessage, error) {
	var lastErr error
	raw, ok := decodeMessage(msg, errorCapture(func(err error) { lastErr = err }))
	if !ok {
		if lastErr == nil {
			lastErr = errors.New("undecodable message")
		}
		return types.RawMessage{}, lastErr
	}
	return raw, nil
}

type logSink interface {
	Logf(format string, args ...any)
}

type errorCapture func(error)

func (e errorCapture) Logf(format string, args ...any) {
	e(fmt.Errorf(format, args...))
}

func decodeMessage(msg []byte, log logSink) (types.RawMessage, bool) {
	var payload map[string]any
	if err := decMode.Unmarshal(msg, &payload); err != nil {
		log.Logf("ingest CBOR decode error: %v", err)
		return types.RawMessage{}, false
	}

	msgType, _ := payload["type"].(string)
	switch msgType {
	case "start", "end":
		return types.RawMessage{Type: msgType, Meta: payload}, true
	case "frame":
	default:
		log.Logf("ingest ignoring message type %q", msgType)
		return types.RawMessage{}, false
	}

	frameID, err := toInt(payload["frame_id"])
	if err != nil {
		log.Logf("ingest invalid frame_id: %v", err)
		return types.RawMessage{}, false
	}
	frame := types.Frame{FrameID: frameID}

	if v, ok := payload["timestamp"]; ok {
		if ts, err := toFloat(v); err == nil {
			frame.Timestamp = ts
		}
	}
	if v, ok := payload["width"]; ok {
		frame.Width, _ = toInt(v)
	}
	if v, ok := payload["height"]; ok {
		frame.Height, _ = toInt(v)
	}
	ready, hasReady := payload["ready"].(bool)

	if pixels, ok := payload["pixels"]; ok && pixels != nil {
		img, err := decodePixels(pixels, frame.Width, frame.Height)
		if err != nil {
			// A bad pixel payload is not fatal: the frame is handled as not
			// ready and the colour sampler falls back to no evidence.
			log.Logf("ingest frame %d pixels: %v", frameID, err)
			ready = false
		} else {
			frame.Image = img
			if frame.Width == 0 || frame.Height == 0 {
				frame.Width, frame.Height = img.Bounds().Dx(), img.Bounds().Dy()
			}
			if !hasReady {
				ready = true
			}
		}
	}
	frame.Ready = ready && frame.Image != nil

	if list, ok := payload["predictions"].([]any); ok {
		frame.Predictions = decodePredictions(list)
	}

	return types.RawMessage{Type: "frame", Frame: frame}, true
}

func decodePredictions(list []any) []types.RawPrediction {
	out := make([]types.RawPrediction, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label, _ := entry["label"].(string)
		if label == "" {
			label, _ = entry["className"].(string)
		}
		if label == "" {
			continue
		}
		var confidence float64
		if v, ok := entry["confidence"]; ok {
			confidence, _ = toFloat(v)
		} else if v, ok := entry["probability"]; ok {
			confidence, _ = toFloat(v)
		}
		out = append(out, types.RawPrediction{Label: label, Confidence: types.ClampConfidence(confidence)})
	}
	return out
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}
