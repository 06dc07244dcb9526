package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
)

var ErrDecode = errors.New("generated image could not be decoded")

// ProcessedImage is a generated image normalised for storage.
type ProcessedImage struct {
	Original    []byte
	Thumbnail   []byte
	ContentType string
	Width       int
	Height      int
	ThumbWidth  int
	ThumbHeight int
}

type Config struct {
	MaxWidth    int // default 2048
	MaxHeight   int // default 2048
	ThumbWidth  int // default 384
	ThumbHeight int // default 384
	Quality     int // JPEG quality 1-100 (default 85)
	KeepPNG     bool
}

func DefaultConfig() Config {
	return Config{
		MaxWidth:    2048,
		MaxHeight:   2048,
		ThumbWidth:  384,
		ThumbHeight: 384,
		Quality:     85,
	}
}

// Processor re-encodes model output before upload.
type Processor struct {
	config Config
}

func NewProcessor(config Config) *Processor {
	def := DefaultConfig()
	if config.MaxWidth <= 0 {
		config.MaxWidth = def.MaxWidth
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = def.MaxHeight
	}
	if config.ThumbWidth <= 0 {
		config.ThumbWidth = def.ThumbWidth
	}
	if config.ThumbHeight <= 0 {
		config.ThumbHeight = def.ThumbHeight
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = def.Quality
	}
	return &Processor{config: config}
}

// Process decodes data, bounds its size and produces a JPEG (or PNG when
// KeepPNG is set and the source is PNG) plus a thumbnail that fits the thumb box.
func (p *Processor) Process(data []byte) (*ProcessedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	outFormat := "jpeg"
	if p.config.KeepPNG && format == "png" {
		outFormat = "png"
	}

	resized := img
	if img.Bounds().Dx() > p.config.MaxWidth || img.Bounds().Dy() > p.config.MaxHeight {
		resized = imaging.Fit(img, p.config.MaxWidth, p.config.MaxHeight, imaging.Lanczos)
	}

	original, err := p.encode(resized, outFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	thumb := imaging.Fit(img, p.config.ThumbWidth, p.config.ThumbHeight, imaging.Lanczos)
	thumbnail, err := p.encode(thumb, outFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return &ProcessedImage{
		Original:    original,
		Thumbnail:   thumbnail,
		ContentType: "image/" + outFormat,
		Width:       resized.Bounds().Dx(),
		Height:      resized.Bounds().Dy(),
		ThumbWidth:  thumb.Bounds().Dx(),
		ThumbHeight: thumb.Bounds().Dy(),
	}, nil
}

// Extension returns the file extension for a content type produced by Process.
func Extension(contentType string) string {
	if contentType == "image/png" {
		return ".png"
	}
	return ".jpg"
}

func (p *Processor) encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	if format == "png" {
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	// JPEG has no alpha channel: flatten onto white.
	flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), image.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
