package camera

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/astrogo/fitsio"
)

func checker(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 200})
			}
		}
	}
	return img
}

func TestUpscaleKeepsPixelsSquare(t *testing.T) {
	src := checker(3, 2)
	dst, err := Upscale(src, 10)
	if err != nil {
		t.Fatal(err)
	}
	if dst.Bounds().Dx() != 30 || dst.Bounds().Dy() != 20 {
		t.Fatalf("bounds %v", dst.Bounds())
	}
	for y := 0; y < 20; y++ {
		for x := 0; x < 30; x++ {
			want := src.GrayAt(x/10, y/10)
			if got := dst.GrayAt(x, y); got != want {
				t.Fatalf("(%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestUpscaleRange(t *testing.T) {
	src := checker(2, 2)
	for _, f := range []int{0, -1, MaxScale + 1} {
		if _, err := Upscale(src, f); err != ErrBadScale {
			t.Errorf("factor %d: expected ErrBadScale, got %v", f, err)
		}
	}
	same, err := Upscale(src, 1)
	if err != nil || same != src {
		t.Error("factor 1 should return the input")
	}
}

func TestWriteFitsHeaderAndData(t *testing.T) {
	buf := &bytes.Buffer{}
	cards := []fitsio.Card{{Name: "INSTRUME", Value: "ADNS-3080"}}
	if err := WriteFits(buf, cards, []*image.Gray{checker(4, 3)}); err != nil {
		t.Fatal(err)
	}
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img := f.HDU(0).(fitsio.Image)
	hdr := img.Header()
	if hdr.Bitpix() != 16 {
		t.Errorf("bitpix %d", hdr.Bitpix())
	}
	if axes := hdr.Axes(); len(axes) != 2 || axes[0] != 4 || axes[1] != 3 {
		t.Errorf("axes %v", axes)
	}
	if c := hdr.Get("INSTRUME"); c == nil || c.Value != "ADNS-3080" {
		t.Errorf("INSTRUME card %v", c)
	}
	data := make([]int16, 4*3)
	if err := img.Read(&data); err != nil {
		t.Fatal(err)
	}
	if data[0] != 200 || data[1] != 0 {
		t.Errorf("data starts %v", data[:2])
	}
}

func TestWriteFitsRejects(t *testing.T) {
	if err := WriteFits(&bytes.Buffer{}, nil, nil); err != ErrNoImages {
		t.Errorf("expected ErrNoImages, got %v", err)
	}
	err := WriteFits(&bytes.Buffer{}, nil, []*image.Gray{checker(2, 2), checker(3, 3)})
	if err != ErrMixedSizes {
		t.Errorf("expected ErrMixedSizes, got %v", err)
	}
}
