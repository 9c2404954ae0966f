package adns3080

import (
	"fmt"
	"image"
	"time"

	"github.com/snksoft/crc"
	"github.com/syringelab/flowtrack/util"
)

// MotionBurstLen is the number of bytes in a motion burst
const MotionBurstLen = 4

// CaptureLen is the number of bytes in one frame capture transfer.
// Each pixel is preceded by a clock of the register address.
const CaptureLen = 2 * PixelsX * PixelsY

// Frame is one 30x30 image from the sensor.  Samples are 6 bit, 0-63.
type Frame struct {
	// Pix is row major, Pix[y][x]
	Pix [PixelsY][PixelsX]uint8

	// Captured is when the transfer completed
	Captured time.Time
}

// At returns the sample at column x, row y
func (f Frame) At(x, y int) uint8 {
	return f.Pix[y][x]
}

// Flat returns the samples in row major order
func (f Frame) Flat() []uint8 {
	out := make([]uint8, 0, PixelsX*PixelsY)
	for y := 0; y < PixelsY; y++ {
		out = append(out, f.Pix[y][:]...)
	}
	return out
}

// Image converts the frame to an 8 bit grayscale image, scaling each sample by DisplayScale
func (f Frame) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, PixelsX, PixelsY))
	for y := 0; y < PixelsY; y++ {
		for x := 0; x < PixelsX; x++ {
			img.Pix[y*img.Stride+x] = f.Pix[y][x] * DisplayScale
		}
	}
	return img
}

// Checksum is the CRC-16/XMODEM of the samples.  Two frames with equal
// samples have equal checksums regardless of capture time.
func (f Frame) Checksum() uint16 {
	return uint16(crc.CalculateCRC(crc.XMODEM, f.Flat()))
}

// MotionSample is one decoded motion burst
type MotionSample struct {
	Status         byte `json:"status"`
	DX             int  `json:"dx"`
	DY             int  `json:"dy"`
	SurfaceQuality byte `json:"quality"`
}

// Overflow is true if the sensor's motion counters overflowed since the last read
func (m MotionSample) Overflow() bool {
	return util.GetBit(m.Status, motionOverflowBit)
}

// Moved is true if the sensor saw motion since the last read
func (m MotionSample) Moved() bool {
	return util.GetBit(m.Status, motionDetectedBit)
}

func (m MotionSample) String() string {
	return fmt.Sprintf("dx:%d dy:%d quality:%d status:0x%02x", m.DX, m.DY, m.SurfaceQuality, m.Status)
}

// DecodeDelta converts a raw delta register to a displacement.
// Values from 0x80 up are negative, offset by 255, so the range is [-127, 127]
// and 0xff reads as 0.
func DecodeDelta(b byte) int {
	if b < 0x80 {
		return int(b)
	}
	return int(b) - 0xff
}

// DecodeMotion decodes a 4 byte motion burst
func DecodeMotion(burst []byte) (MotionSample, error) {
	if len(burst) != MotionBurstLen {
		return MotionSample{}, fmt.Errorf("%w: motion burst is %d bytes, need %d", ErrShortRead, len(burst), MotionBurstLen)
	}
	return MotionSample{
		Status:         burst[0],
		DX:             DecodeDelta(burst[1]),
		DY:             DecodeDelta(burst[2]),
		SurfaceQuality: burst[3],
	}, nil
}

// DecodeFrame decodes a raw capture transfer.  raw[0] is the echo of the
// address byte; pixels are at every odd offset and only the low 6 bits are valid.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if len(raw) != CaptureLen {
		return f, fmt.Errorf("%w: capture is %d bytes, need %d", ErrShortRead, len(raw), CaptureLen)
	}
	for i := 0; i < PixelsX*PixelsY; i++ {
		f.Pix[i/PixelsX][i%PixelsX] = raw[2*i+1] & PixelMask
	}
	return f, nil
}

// captureRequest is the transmit side of a frame capture
func captureRequest() []byte {
	w := make([]byte, CaptureLen)
	for i := range w {
		if i%2 == 0 {
			w[i] = RegFrameCapture
		} else {
			w[i] = 0xff
		}
	}
	return w
}
