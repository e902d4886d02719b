package chat

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Image is an attachment validated and ready for upload.
// ID names the uploaded object and is kept across retries of the same draft.
type Image struct {
	ID          string
	Name        string
	ContentType string
	Ext         string
	Data        []byte
	Width       int
	Height      int
}

// ImageLimits bounds attachments, a zero field disables the corresponding check
type ImageLimits struct {
	// MaxBytes bounds the encoded payload
	MaxBytes int
	// MaxPixels bounds the decoded bitmap, it is checked against the header before decoding
	MaxPixels int
	// MaxDimension is the larger side images are downscaled to
	MaxDimension int
}

// PrepareImage rejects payloads above the byte or pixel limits or that do not decode as an image,
// and downscales images whose larger side exceeds the dimension limit.
func PrepareImage(name string, data []byte, limits ImageLimits) (*Image, error) {
	if limits.MaxBytes > 0 && len(data) > limits.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrImageTooLarge, len(data), limits.MaxBytes)
	}

	cfg, formatName, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageInvalid, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %dx%d image", ErrImageInvalid, cfg.Width, cfg.Height)
	}
	if limits.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(limits.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d pixels, limit is %d", ErrImageTooLarge, cfg.Width, cfg.Height, limits.MaxPixels)
	}

	format, err := imaging.FormatFromExtension(formatName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageInvalid, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageInvalid, err)
	}

	bounds := img.Bounds()
	if limits.MaxDimension > 0 && (bounds.Dx() > limits.MaxDimension || bounds.Dy() > limits.MaxDimension) {
		img = imaging.Fit(img, limits.MaxDimension, limits.MaxDimension, imaging.Lanczos)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, format); err != nil {
			return nil, fmt.Errorf("encoding resized image: %w", err)
		}
		data = buf.Bytes()
		bounds = img.Bounds()
	}

	ext := formatName
	if format == imaging.JPEG {
		ext = "jpg"
	}

	return &Image{
		Name:        name,
		ContentType: "image/" + formatName,
		Ext:         ext,
		Data:        data,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}
