package stereo

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/abworrall/stereo-pprc/pkg/emath"
	"github.com/abworrall/stereo-pprc/pkg/raster"
)

// MaxPreviewWidth is as wide as a preview image gets; bigger images are
// halved until they fit.
const MaxPreviewWidth = 1024

// WritePreview renders a shrunken grayscale PNG of img, for humans to
// look at. Invalid pixels show up in a highlight color.
func WritePreview(img MaskedImage, title, filename string) error {
	b := img.Bounds()
	halvings := 0
	for (b.Dx() >> halvings) > MaxPreviewWidth {
		halvings++
	}

	out := emath.NewMaskedGrid(b.Dx()>>halvings, b.Dy()>>halvings)
	if out.Dx() == 0 || out.Dy() == 0 {
		return fmt.Errorf("preview '%s': image %v is too small", filename, b.Size())
	}

	// Bands are a multiple of the shrink factor tall, so that each one
	// lands on whole rows of the preview.
	for _, band := range raster.Bands(b, 64<<halvings) {
		mg, err := img.MaskedBlock(band)
		if err != nil {
			return err
		}
		for i := 0; i < halvings; i++ {
			mg = mg.DownSample()
		}

		y0 := (band.Min.Y - b.Min.Y) >> halvings
		for y := 0; y < mg.Dy() && y0+y < out.Dy(); y++ {
			valid := mg.ValidRow(y)
			for x, v := range mg.Row(y) {
				out.SetMasked(x, y0+y, v, valid[x])
			}
		}
	}

	return out.ToImg(title, filename)
}

// writePreviews is best effort; a failure is logged, not fatal.
func (r *run) writePreviews(log logrus.FieldLogger) {
	for _, p := range []struct {
		side string
		img  MaskedImage
	}{{"L", r.leftView}, {"R", r.rightView}} {
		filename := fmt.Sprintf("%s-%s-preview.png", r.req.OutPrefix, p.side)
		title := fmt.Sprintf("%s [%s] %s", filepath.Base(r.req.OutPrefix), p.side, r.cfg.Alignment)
		if err := WritePreview(p.img, title, filename); err != nil {
			log.WithError(err).Warn("no preview")
			continue
		}
		log.WithField("file", filename).Debug("wrote preview")
	}
}
