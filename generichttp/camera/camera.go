// Package camera provides a generic HTTP interface to anything that can hand back its latest image
package camera

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/astrogo/fitsio"
	"github.com/syringelab/flowtrack/camera"
	"github.com/syringelab/flowtrack/generichttp"
	"github.com/syringelab/flowtrack/imgrec"
)

// Snapshotter returns the most recent image
type Snapshotter interface {
	Snapshot() (*image.Gray, error)
}

// MetaSnapshotter returns the most recent image together with the FITS cards
// describing it, read in one step so the two always match
type MetaSnapshotter interface {
	SnapshotWithMetadata() (*image.Gray, []fitsio.Card, error)
}

// snapshot prefers MetaSnapshotter, then falls back to Snapshot plus any MetadataMaker
func snapshot(s Snapshotter) (*image.Gray, []fitsio.Card, error) {
	if ms, ok := s.(MetaSnapshotter); ok {
		return ms.SnapshotWithMetadata()
	}
	img, err := s.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	var cards []fitsio.Card
	if mm, ok := s.(camera.MetadataMaker); ok {
		cards = mm.CollectHeaderMetadata()
	}
	return img, cards, nil
}

// HTTPSnapshot injects the frame route into a route table.  rec may be nil.
func HTTPSnapshot(s Snapshotter, table generichttp.RouteTable, rec *imgrec.Recorder) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/frame"}] = GetFrame(s, rec)
}

// GetFrame returns the latest image on a GET request.
//
// the image format may be specified in the fmt query parameter: jpg, png, or
// fits; default to png.  The scale parameter upscales jpg and png output by
// an integer factor with nearest-neighbour sampling; fits is always unscaled.
//
// the FITS header comes from s when it is a MetaSnapshotter or a
// camera.MetadataMaker, and when rec is enabled every FITS response is also
// written to disk.
func GetFrame(s Snapshotter, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		img, cards, err := snapshot(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		format := q.Get("fmt")
		if format == "" {
			format = "png"
		}
		scale := 1
		if str := q.Get("scale"); str != "" {
			scale, err = strconv.Atoi(str)
			if err != nil {
				http.Error(w, "scale must be an integer", http.StatusBadRequest)
				return
			}
		}

		switch format {
		case "fits":
			buf := &bytes.Buffer{}
			if err := camera.WriteFits(buf, cards, []*image.Gray{img}); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if rec != nil && rec.Enabled() {
				if _, err := rec.Write(buf.Bytes()); err != nil {
					log.Printf("camera: autosave: %v", err)
				}
			}
			w.Header().Set("Content-Type", "image/fits")
			w.Header().Set("Content-Disposition", "attachment; filename=frame.fits")
			w.WriteHeader(http.StatusOK)
			io.Copy(w, buf)
		case "jpg", "jpeg", "png":
			img, err = camera.Upscale(img, scale)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if format == "png" {
				w.Header().Set("Content-Type", "image/png")
				err = png.Encode(w, img)
			} else {
				w.Header().Set("Content-Type", "image/jpeg")
				err = jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
			}
			if err != nil {
				log.Printf("camera: encoding %s: %v", format, err)
			}
		default:
			http.Error(w, "format must be one of jpg, png, fits", http.StatusBadRequest)
		}
	}
}
