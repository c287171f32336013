package ingest

import (
	"errors"
	"fmt"
	"image"

	"github.com/fxamacker/cbor/v2"
)

// RFC 8746 typed array tags.
const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint8Clamped  = 68
)

// maxDimension bounds wire-supplied widths and heights so size products
// cannot overflow int.
const maxDimension = 1 << 15

// decodePixels turns a pixel payload into an image. Accepted shapes:
// tag 40 [[h, w, c], uint8 typed array], a bare uint8 typed array, or a
// byte string. Bare buffers need width/height and are read as RGBA when
// the length allows, RGB otherwise.
func decodePixels(value any, width, height int) (image.Image, error) {
	if tag, ok := value.(cbor.Tag); ok && tag.Number == tagMultiDimArray {
		return decodeMultiDimArray(tag)
	}

	data, err := decodeTypedArray(value)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("flat pixel buffer needs width and height, got %dx%d", width, height)
	}
	if width > maxDimension || height > maxDimension {
		return nil, fmt.Errorf("frame %dx%d exceeds %d pixels per side", width, height, maxDimension)
	}
	switch len(data) {
	case width * height * 4:
		return toImage(data, height, width, 4)
	case width * height * 3:
		return toImage(data, height, width, 3)
	default:
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%d", len(data), width, height)
	}
}

func decodeMultiDimArray(tag cbor.Tag) (image.Image, error) {
	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return nil, errors.New("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || (len(dimsRaw) != 2 && len(dimsRaw) != 3) {
		return nil, errors.New("invalid multidim dimensions")
	}
	dims := make([]int, len(dimsRaw))
	for i, d := range dimsRaw {
		n, err := toInt(d)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("invalid dimension %d", n)
		}
		dims[i] = n
	}
	channels := 1
	if len(dims) == 3 {
		channels = dims[2]
	}

	data, err := decodeTypedArray(items[1])
	if err != nil {
		return nil, err
	}
	return toImage(data, dims[0], dims[1], channels)
}

func decodeTypedArray(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case cbor.Tag:
		if v.Number != tagUint8 && v.Number != tagUint8Clamped {
			return nil, fmt.Errorf("unsupported typed array tag %d", v.Number)
		}
		data, ok := v.Content.([]byte)
		if !ok {
			return nil, fmt.Errorf("unsupported typed array content %T", v.Content)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported pixel payload %T", value)
	}
}

// toImage copies row-major samples into an NRGBA image. Camera canvases
// hand out straight (non-premultiplied) alpha, which is what NRGBA holds.
func toImage(data []byte, rows, cols, channels int) (image.Image, error) {
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if rows <= 0 || cols <= 0 || rows > maxDimension || cols > maxDimension {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", cols, rows)
	}
	if rows*cols*channels != len(data) {
		return nil, errors.New("dimension mismatch")
	}

	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	if channels == 4 {
		copy(img.Pix, data)
		return img, nil
	}
	for i := 0; i < rows*cols; i++ {
		src := data[i*channels : (i+1)*channels]
		dst := img.Pix[i*4 : i*4+4]
		if channels == 1 {
			dst[0], dst[1], dst[2] = src[0], src[0], src[0]
		} else {
			dst[0], dst[1], dst[2] = src[0], src[1], src[2]
		}
		dst[3] = 0xff
	}
	return img, nil
}
