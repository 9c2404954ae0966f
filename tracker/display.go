package tracker

import (
	"time"

	"github.com/syringelab/flowtrack/adns3080"
)

// Display consumes what the poller produces.  Calls come from the poller
// goroutine and should return quickly.
type Display interface {
	ShowFrame(f adns3080.Frame)
	ShowPosition(p Position, s adns3080.MotionSample)
	ShowMode(m Mode)
}

// Displays fans out to several displays in order
type Displays []Display

// ShowFrame implements Display
func (d Displays) ShowFrame(f adns3080.Frame) {
	for _, disp := range d {
		disp.ShowFrame(f)
	}
}

// ShowPosition implements Display
func (d Displays) ShowPosition(p Position, s adns3080.MotionSample) {
	for _, disp := range d {
		disp.ShowPosition(p, s)
	}
}

// ShowMode implements Display
func (d Displays) ShowMode(m Mode) {
	for _, disp := range d {
		disp.ShowMode(m)
	}
}

// Publisher accepts JSON-able values, for example a websocket hub
type Publisher interface {
	Publish(v interface{})
}

// Event is what EventDisplay publishes
type Event struct {
	Type     string    `json:"type"`
	Session  string    `json:"session"`
	Time     time.Time `json:"time"`
	Mode     string    `json:"mode,omitempty"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	DX       int       `json:"dx"`
	DY       int       `json:"dy"`
	Quality  byte      `json:"quality"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	Pixels   []uint8   `json:"pixels,omitempty"`
	Checksum uint16    `json:"checksum,omitempty"`
}

// EventDisplay turns poller output into Events for a Publisher
type EventDisplay struct {
	Pub     Publisher
	Session string
}

// ShowFrame implements Display
func (e EventDisplay) ShowFrame(f adns3080.Frame) {
	e.Pub.Publish(Event{
		Type:     "frame",
		Session:  e.Session,
		Time:     f.Captured,
		Width:    adns3080.PixelsX,
		Height:   adns3080.PixelsY,
		Pixels:   f.Flat(),
		Checksum: f.Checksum(),
	})
}

// ShowPosition implements Display
func (e EventDisplay) ShowPosition(p Position, s adns3080.MotionSample) {
	e.Pub.Publish(Event{
		Type:    "position",
		Session: e.Session,
		Time:    time.Now(),
		X:       p.X,
		Y:       p.Y,
		DX:      s.DX,
		DY:      s.DY,
		Quality: s.SurfaceQuality,
	})
}

// ShowMode implements Display
func (e EventDisplay) ShowMode(m Mode) {
	e.Pub.Publish(Event{Type: "mode", Session: e.Session, Time: time.Now(), Mode: m.String()})
}
