// Package media holds the collaborators the session layer uses to shape
// message content: image thumbnails, voice-note transcoding and QR
// rendering.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const (
	thumbnailDimension  = 72
	maxDecompressedSize = 50 * 1024 * 1024 // bytes, decompression bomb guard
)

// JPEGThumbnail produces the small preview image attached to outbound image
// messages. The input may be JPEG, PNG or WebP.
func JPEGThumbnail(data []byte, mimetype string) ([]byte, error) {
	img, err := decode(data, mimetype)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx()*bounds.Dy()*4 > maxDecompressedSize {
		return nil, fmt.Errorf("decompression bomb detected: image too large when decompressed")
	}

	thumb := imaging.Fit(img, thumbnailDimension, thumbnailDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, mimetype string) (image.Image, error) {
	r := bytes.NewReader(data)

	switch mimetype {
	case "image/jpeg":
		return jpeg.Decode(r)
	case "image/png":
		return png.Decode(r)
	case "image/webp":
		return webp.Decode(r)
	default:
		img, _, err := image.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("unsupported image format or corrupted file")
		}
		return img, nil
	}
}
