package simulator

import (
	"context"
	"image"
	"math/rand"
	"time"

	"agrolens-go/internal/types"
)

// Scene is one object held in front of the simulated camera.
type Scene struct {
	Name   string
	Color  [3]uint8
	Labels []string
}

// DefaultScenes are produce items the stock classifier tends to mislabel.
var DefaultScenes = []Scene{
	{Name: "tomato", Color: [3]uint8{214, 48, 39}, Labels: []string{"pomegranate", "orange", "Granny Smith, apple"}},
	{Name: "cucumber", Color: [3]uint8{62, 140, 58}, Labels: []string{"zucchini, courgette", "cucumber, cuke"}},
	{Name: "lettuce", Color: [3]uint8{96, 170, 72}, Labels: []string{"head cabbage", "broccoli"}},
	{Name: "pepper", Color: [3]uint8{190, 40, 30}, Labels: []string{"bell pepper"}},
	{Name: "orange", Color: [3]uint8{230, 205, 60}, Labels: []string{"orange", "lemon"}},
}

var distractors = []string{"plate", "tray", "mixing bowl", "paper towel", "hand blower"}

type Options struct {
	Width       int
	Height      int
	FrameRate   float64
	SceneFrames int
	Scenes      []Scene
	Seed        int64
}

// Stream emits a start marker followed by frames until ctx is done. Every
// frame carries its own predictions, standing in for the external classifier.
func Stream(ctx context.Context, opts Options) <-chan types.RawMessage {
	if opts.Width <= 0 {
		opts.Width = 320
	}
	if opts.Height <= 0 {
		opts.Height = 240
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 10
	}
	if opts.SceneFrames <= 0 {
		opts.SceneFrames = 60
	}
	if len(opts.Scenes) == 0 {
		opts.Scenes = DefaultScenes
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	out := make(chan types.RawMessage)
	go func() {
		defer close(out)

		rng := rand.New(rand.NewSource(opts.Seed))
		frameInterval := time.Duration(float64(time.Second) / opts.FrameRate)
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()

		select {
		case <-ctx.Done():
			return
		case out <- types.RawMessage{Type: "start", Meta: map[string]any{"source": "simulator"}}:
		}

		frameID := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scene := opts.Scenes[(frameID/opts.SceneFrames)%len(opts.Scenes)]
				frame := Render(rng, opts.Width, opts.Height, scene)
				frame.FrameID = frameID
				frame.Timestamp = float64(time.Now().UnixNano()) / 1e9
				frame.Predictions = Predict(rng, scene)

				select {
				case <-ctx.Done():
					return
				case out <- types.RawMessage{Type: "frame", Frame: frame}:
				}
				frameID++
			}
		}
	}()

	return out
}

// Render draws a noisy grey background with the scene's object covering the
// middle third of the frame.
func Render(rng *rand.Rand, width, height int, scene Scene) types.Frame {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	x0, x1 := width/3, 2*width/3
	y0, y1 := height/3, 2*height/3
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			if x >= x0 && x < x1 && y >= y0 && y < y1 {
				img.Pix[i] = jitter(rng, scene.Color[0])
				img.Pix[i+1] = jitter(rng, scene.Color[1])
				img.Pix[i+2] = jitter(rng, scene.Color[2])
			} else {
				g := jitter(rng, 120)
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = g, g, g
			}
			img.Pix[i+3] = 0xff
		}
	}
	return types.Frame{Width: width, Height: height, Ready: true, Image: img}
}

// Predict mimics a generic classifier: usually one of the scene's labels,
// sometimes an unrelated distractor on top.
func Predict(rng *rand.Rand, scene Scene) []types.RawPrediction {
	top := scene.Labels[rng.Intn(len(scene.Labels))]
	if rng.Float64() < 0.2 {
		top = distractors[rng.Intn(len(distractors))]
	}
	confidence := 0.35 + rng.Float64()*0.6
	return []types.RawPrediction{
		{Label: top, Confidence: confidence},
		{Label: distractors[rng.Intn(len(distractors))], Confidence: (1 - confidence) / 2},
	}
}

func jitter(rng *rand.Rand, v uint8) uint8 {
	n := int(v) + rng.Intn(17) - 8
	return uint8(min(255, max(0, n)))
}
