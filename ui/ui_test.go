package ui

import (
	"testing"

	"fyne.io/fyne/v2"
	"github.com/syringelab/flowtrack/adns3080"
	"github.com/syringelab/flowtrack/tracker"
)

func TestMarkerPosition(t *testing.T) {
	cases := []struct {
		in   tracker.Position
		want fyne.Position
	}{
		{tracker.Position{}, fyne.NewPos(145, 145)},
		{tracker.Position{X: 10, Y: -20}, fyne.NewPos(155, 125)},
		{tracker.Position{X: 1000, Y: -1000}, fyne.NewPos(290, 0)},
		{tracker.Position{X: -146, Y: 146}, fyne.NewPos(0, 290)},
	}
	for _, c := range cases {
		if got := MarkerPosition(c.in); got != c.want {
			t.Errorf("MarkerPosition(%+v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestModeLabels(t *testing.T) {
	img, mot := ModeLabels(tracker.ModeImageCapture, false)
	if img.Text != "Image capture mode: ON" || img.Color != green {
		t.Errorf("image label %+v", img)
	}
	if mot.Text != "Move tracking mode: OFF" || mot.Color != red {
		t.Errorf("motion label %+v", mot)
	}
	img, mot = ModeLabels(tracker.ModeMotionTracking, false)
	if img.Color != red || mot.Color != green || mot.Text != "Move tracking mode: ON" {
		t.Errorf("labels %+v %+v", img, mot)
	}
	img, mot = ModeLabels(tracker.ModeMotionTracking, true)
	if img.Color != red || mot.Color != red {
		t.Error("both labels should be red once stopped")
	}
}

func TestFrameImageFillsCanvas(t *testing.T) {
	var f adns3080.Frame
	f.Pix[0][0] = 0x3f
	img, err := FrameImage(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != CanvasSize || b.Dy() != CanvasSize {
		t.Errorf("bounds %v", b)
	}
}
