package storage

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// ThumbnailWidth is the width of generated design previews.
const ThumbnailWidth = 320

// IsImage reports whether contentType is an image format Thumbnail can decode.
func IsImage(contentType string) bool {
	return contentType == "image/png" || contentType == "image/jpeg"
}

// Thumbnail decodes a png or jpeg image and returns a png preview scaled to
// ThumbnailWidth, keeping the aspect ratio. Images that are already narrower are
// re-encoded unchanged.
func Thumbnail(data []byte, contentType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	switch contentType {
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	default:
		return nil, errors.Errorf("unsupported image type %q", contentType)
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}

	if img.Bounds().Dx() > ThumbnailWidth {
		img = resize.Resize(ThumbnailWidth, 0, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode thumbnail")
	}
	return buf.Bytes(), nil
}
