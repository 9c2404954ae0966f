// Package ui is the desktop display: the latest frame, a position plot, the
// mode labels and the operator buttons.
package ui

import (
	"context"
	"image"
	"image/color"
	"log"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/syringelab/flowtrack/adns3080"
	"github.com/syringelab/flowtrack/camera"
	"github.com/syringelab/flowtrack/tracker"
	"github.com/syringelab/flowtrack/util"
)

const (
	// CanvasSize is the edge of the frame and plot canvases in pixels
	CanvasSize = 300

	// FrameScale enlarges the 30x30 frame to fill the canvas
	FrameScale = CanvasSize / adns3080.PixelsX

	// GridCells is the number of plot grid cells per side
	GridCells = 6

	// MarkerSize is the diameter of the position marker
	MarkerSize = 10
)

var (
	green     = color.NRGBA{G: 160, A: 255}
	red       = color.NRGBA{R: 200, A: 255}
	blue      = color.NRGBA{B: 255, A: 255}
	lightGray = color.NRGBA{R: 211, G: 211, B: 211, A: 255}
)

// Callbacks are what the buttons do.  Pulse is run off the UI goroutine.
type Callbacks struct {
	Stop       func()
	ToggleMode func() tracker.Mode
	Pulse      func() error
}

// MarkerPosition is where the marker's top left corner goes for a position.
// The origin is the canvas centre and the marker never leaves the canvas.
func MarkerPosition(p tracker.Position) fyne.Position {
	hi := float64(CanvasSize - MarkerSize)
	x := util.Clamp(float64(p.X+CanvasSize/2-MarkerSize/2), 0, hi)
	y := util.Clamp(float64(p.Y+CanvasSize/2-MarkerSize/2), 0, hi)
	return fyne.NewPos(float32(x), float32(y))
}

// LabelState is the text and colour of one mode label
type LabelState struct {
	Text  string
	Color color.Color
}

// ModeLabels returns the image capture and motion tracking labels for a mode.
// Once stopped both are red.
func ModeLabels(m tracker.Mode, stopped bool) (img, mot LabelState) {
	onOff := func(on bool) (string, color.Color) {
		if on && !stopped {
			return "ON", green
		}
		if on {
			return "ON", red
		}
		return "OFF", red
	}
	t, c := onOff(m == tracker.ModeImageCapture)
	img = LabelState{Text: "Image capture mode: " + t, Color: c}
	t, c = onOff(m == tracker.ModeMotionTracking)
	mot = LabelState{Text: "Move tracking mode: " + t, Color: c}
	return img, mot
}

// FrameImage is a frame as shown on the canvas
func FrameImage(f adns3080.Frame) (image.Image, error) {
	return camera.Upscale(f.Image(), FrameScale)
}

// Display is a tracker.Display on a fyne window.  Its Show methods may be
// called from any goroutine.
type Display struct {
	app    fyne.App
	window fyne.Window

	frame    *canvas.Image
	marker   *canvas.Circle
	imgLabel *canvas.Text
	motLabel *canvas.Text
	buttons  []*widget.Button

	// owned by the UI goroutine
	mode    tracker.Mode
	stopped bool
}

// New builds the window.  It must be called from the main goroutine.
func New(title string, cb Callbacks) *Display {
	d := &Display{app: app.New()}
	d.window = d.app.NewWindow(title)

	d.frame = canvas.NewImageFromImage(image.NewGray(image.Rect(0, 0, CanvasSize, CanvasSize)))
	d.frame.ScaleMode = canvas.ImageScalePixels
	d.frame.FillMode = canvas.ImageFillContain
	d.frame.SetMinSize(fyne.NewSize(CanvasSize, CanvasSize))

	d.imgLabel = canvas.NewText("", red)
	d.motLabel = canvas.NewText("", red)
	d.applyLabels()

	stop := widget.NewButton("STOP", func() {
		if cb.Stop != nil {
			cb.Stop()
		}
		d.stopped = true
		d.applyLabels()
		for _, b := range d.buttons {
			b.Disable()
		}
	})
	change := widget.NewButton("Change Mode", func() {
		if cb.ToggleMode != nil {
			log.Printf("ui: mode %s requested", cb.ToggleMode())
		}
	})
	var motor *widget.Button
	motor = widget.NewButton("MOTOR START", func() {
		if cb.Pulse == nil {
			return
		}
		motor.Disable()
		go func() {
			if err := cb.Pulse(); err != nil {
				log.Printf("ui: pulse: %v", err)
			}
			fyne.Do(func() {
				if !d.stopped {
					motor.Enable()
				}
			})
		}()
	})
	d.buttons = []*widget.Button{stop, change, motor}

	content := container.NewVBox(
		container.NewHBox(d.frame, d.plot()),
		d.imgLabel,
		d.motLabel,
		container.NewHBox(stop, change, motor),
	)
	d.window.SetContent(content)
	d.window.Resize(fyne.NewSize(2*CanvasSize, 2*CanvasSize))
	return d
}

// plot is the white canvas with its grid and the marker
func (d *Display) plot() fyne.CanvasObject {
	bg := canvas.NewRectangle(color.White)
	bg.Resize(fyne.NewSize(CanvasSize, CanvasSize))
	objs := []fyne.CanvasObject{bg}
	cell := float32(CanvasSize) / GridCells
	for i := 0; i <= GridCells; i++ {
		at := cell * float32(i)
		v := canvas.NewLine(lightGray)
		v.Position1, v.Position2 = fyne.NewPos(at, 0), fyne.NewPos(at, CanvasSize)
		h := canvas.NewLine(lightGray)
		h.Position1, h.Position2 = fyne.NewPos(0, at), fyne.NewPos(CanvasSize, at)
		objs = append(objs, v, h)
	}
	d.marker = canvas.NewCircle(blue)
	d.marker.Resize(fyne.NewSize(MarkerSize, MarkerSize))
	d.marker.Move(MarkerPosition(tracker.Position{}))
	objs = append(objs, d.marker)

	c := container.NewWithoutLayout(objs...)
	return container.NewGridWrap(fyne.NewSize(CanvasSize, CanvasSize), c)
}

func (d *Display) applyLabels() {
	img, mot := ModeLabels(d.mode, d.stopped)
	d.imgLabel.Text, d.imgLabel.Color = img.Text, img.Color
	d.motLabel.Text, d.motLabel.Color = mot.Text, mot.Color
	d.imgLabel.Refresh()
	d.motLabel.Refresh()
}

// ShowFrame implements tracker.Display
func (d *Display) ShowFrame(f adns3080.Frame) {
	img, err := FrameImage(f)
	if err != nil {
		log.Printf("ui: %v", err)
		return
	}
	fyne.Do(func() {
		d.frame.Image = img
		d.frame.Refresh()
	})
}

// ShowPosition implements tracker.Display
func (d *Display) ShowPosition(p tracker.Position, _ adns3080.MotionSample) {
	pos := MarkerPosition(p)
	fyne.Do(func() {
		d.marker.Move(pos)
		d.marker.Refresh()
	})
}

// ShowMode implements tracker.Display
func (d *Display) ShowMode(m tracker.Mode) {
	fyne.Do(func() {
		d.mode = m
		d.applyLabels()
	})
}

// Stopped turns both labels red, as after STOP.  It may be called from any goroutine.
func (d *Display) Stopped() {
	fyne.Do(func() {
		d.stopped = true
		d.applyLabels()
	})
}

// Run shows the window until it is closed or ctx is done.  It must be called
// from the main goroutine and blocks.
func (d *Display) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		fyne.Do(func() {
			d.app.Quit()
		})
	}()
	d.window.ShowAndRun()
}
