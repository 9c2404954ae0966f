/*Package camera holds image helpers shared by the displays and the HTTP frame route.

Frames from the sensor are tiny (30x30), so everything that shows one to a person
first upscales it with nearest-neighbour sampling to keep the pixels square.
*/
package camera

import (
	"errors"
	"image"
	"io"

	"github.com/astrogo/fitsio"
	"github.com/disintegration/gift"
)

// MaxScale bounds Upscale's factor
const MaxScale = 64

var (
	// ErrBadScale is generated when an upscale factor is out of range
	ErrBadScale = errors.New("camera: scale must be between 1 and 64")

	// ErrNoImages is generated when WriteFits is given nothing to write
	ErrNoImages = errors.New("camera: no images to write")

	// ErrMixedSizes is generated when the images of a cube differ in size
	ErrMixedSizes = errors.New("camera: all images in a cube must be the same size")
)

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// Upscale enlarges img by an integer factor with nearest-neighbour sampling
func Upscale(img *image.Gray, factor int) (*image.Gray, error) {
	if factor < 1 || factor > MaxScale {
		return nil, ErrBadScale
	}
	if factor == 1 {
		return img, nil
	}
	b := img.Bounds()
	g := gift.New(gift.Resize(b.Dx()*factor, b.Dy()*factor, gift.NearestNeighborResampling))
	dst := image.NewGray(g.Bounds(b))
	g.Draw(dst, img)
	return dst, nil
}

// WriteFits streams a fits file to w.  More than one image makes a cube.
func WriteFits(w io.Writer, metadata []fitsio.Card, imgs []*image.Gray) error {
	if len(imgs) == 0 {
		return ErrNoImages
	}
	b := imgs[0].Bounds()
	width, height := b.Dx(), b.Dy()
	dims := []int{width, height}
	if len(imgs) > 1 {
		dims = append(dims, len(imgs))
	}

	ints := make([]int16, 0, width*height*len(imgs))
	for _, img := range imgs {
		ib := img.Bounds()
		if ib.Dx() != width || ib.Dy() != height {
			return ErrMixedSizes
		}
		for y := ib.Min.Y; y < ib.Max.Y; y++ {
			for x := ib.Min.X; x < ib.Max.X; x++ {
				ints = append(ints, int16(img.GrayAt(x, y).Y))
			}
		}
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	if err = im.Header().Append(metadata...); err != nil {
		return err
	}
	if err = im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}
