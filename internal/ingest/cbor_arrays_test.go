package ingest

import (
	"image"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestDecodeMultiDimArrayRGBA(t *testing.T) {
	tag := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{1, 2, 4},
			cbor.Tag{
				Number:  tagUint8,
				Content: []byte{10, 20, 30, 255, 40, 50, 60, 128},
			},
		},
	}

	img, err := decodeMultiDimArray(tag)
	if err != nil {
		t.Fatalf("decodeMultiDimArray error: %v", err)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("unexpected image type %T", img)
	}
	if nrgba.Rect != image.Rect(0, 0, 2, 1) {
		t.Fatalf("unexpected bounds %v", nrgba.Rect)
	}
	if got := nrgba.NRGBAAt(1, 0); got.R != 40 || got.G != 50 || got.B != 60 || got.A != 128 {
		t.Fatalf("unexpected pixel %#v", got)
	}
}

func TestDecodePixelsRGBFlat(t *testing.T) {
	img, err := decodePixels([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	if err != nil {
		t.Fatalf("decodePixels error: %v", err)
	}
	got := img.(*image.NRGBA).NRGBAAt(1, 0)
	if got.R != 4 || got.G != 5 || got.B != 6 || got.A != 255 {
		t.Fatalf("unexpected pixel %#v", got)
	}
}

func TestDecodePixelsGray(t *testing.T) {
	tag := cbor.Tag{
		Number:  tagMultiDimArray,
		Content: []any{[]any{1, 1}, cbor.Tag{Number: tagUint8Clamped, Content: []byte{77}}},
	}
	img, err := decodePixels(tag, 0, 0)
	if err != nil {
		t.Fatalf("decodePixels error: %v", err)
	}
	if got := img.(*image.NRGBA).NRGBAAt(0, 0); got.R != 77 || got.B != 77 {
		t.Fatalf("unexpected pixel %#v", got)
	}
}

func TestDecodePixelsRejects(t *testing.T) {
	tests := []struct {
		name  string
		value any
		w, h  int
	}{
		{"length mismatch", []byte{1, 2, 3}, 2, 2},
		{"missing dims", []byte{1, 2, 3, 4}, 0, 0},
		{"wrong tag", cbor.Tag{Number: 70, Content: []byte{0, 0, 0, 0}}, 1, 1},
		{"bad shape", cbor.Tag{Number: tagMultiDimArray, Content: []any{[]any{2, 2, 4}, []byte{1}}}, 0, 0},
		{"bad channels", cbor.Tag{Number: tagMultiDimArray, Content: []any{[]any{1, 1, 2}, []byte{1, 2}}}, 0, 0},
		{"not bytes", "pixels", 1, 1},
		{"huge flat width", []byte{}, 1 << 62, 1},
		{"oversized flat height", make([]byte, 4*(maxDimension+1)), 1, maxDimension + 1},
		{"huge multidim rows", cbor.Tag{Number: tagMultiDimArray, Content: []any{[]any{uint64(1 << 62), 4, 1}, cbor.Tag{Number: tagUint8, Content: []byte{}}}}, 0, 0},
		{"wrapped multidim cols", cbor.Tag{Number: tagMultiDimArray, Content: []any{[]any{4, uint64(1<<63 + 4), 1}, []byte{}}}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodePixels(tt.value, tt.w, tt.h); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
