package img

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"math"
	"strings"

	"github.com/chai2010/webp"
	"github.com/sunshineplan/imgconv"
)

type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	WEBP Format = "webp"
)

// ParseFormat accepts png, jpeg, jpg and webp, case-insensitively.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "png":
		return PNG, true
	case "jpeg", "jpg":
		return JPEG, true
	case "webp":
		return WEBP, true
	}
	return "", false
}

// Options controls Process. A zero Width or Height keeps the source size.
// A nil Quality selects the format's default (lossless for webp).
type Options struct {
	Format  Format
	Quality *int
	Width   int
	Height  int
}

// Quality returns a pointer to q for Options.Quality.
func Quality(q int) *int {
	return &q
}

type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Processor decodes a raw capture, optionally cover-crops it and encodes
// it in the requested format.
type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

func (p *Processor) Process(raw []byte, opts Options) (*Result, error) {
	src, err := imgconv.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error decoding capture: %v", err)
	}

	if opts.Width > 0 && opts.Height > 0 {
		src = Cover(src, opts.Width, opts.Height)
	}

	data, err := Encode(src, opts.Format, opts.Quality)
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	return &Result{Data: data, Width: b.Dx(), Height: b.Dy()}, nil
}

// Cover scales src until it covers width x height, then crops the overflow.
// The crop is centred horizontally and anchored to the top edge.
func Cover(src image.Image, width, height int) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return src
	}

	scale := math.Max(float64(width)/float64(srcW), float64(height)/float64(srcH))
	scaledW := max(width, int(math.Ceil(float64(srcW)*scale)))
	scaledH := max(height, int(math.Ceil(float64(srcH)*scale)))

	resized := src
	if scaledW != srcW || scaledH != srcH {
		resized = imgconv.Resize(src, &imgconv.ResizeOption{
			Width:  scaledW,
			Height: scaledH,
		})
	}

	offsetX := (resized.Bounds().Dx() - width) / 2
	origin := resized.Bounds().Min.Add(image.Pt(offsetX, 0))

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), resized, origin, draw.Src)
	return dst
}

// Encode writes m in format. quality only affects jpeg (clamped to 1..100)
// and webp; nil keeps the encoder default.
func Encode(m image.Image, format Format, quality *int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case PNG:
		if err := imgconv.Write(&buf, m, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
			return nil, fmt.Errorf("error encoding PNG: %v", err)
		}
	case JPEG:
		opt := &imgconv.FormatOption{Format: imgconv.JPEG}
		if quality != nil {
			opt.EncodeOption = []imgconv.EncodeOption{imgconv.Quality(clamp(*quality, 1, 100))}
		}
		if err := imgconv.Write(&buf, m, opt); err != nil {
			return nil, fmt.Errorf("error encoding JPEG: %v", err)
		}
	case WEBP:
		opt := &webp.Options{Lossless: true}
		if quality != nil {
			opt = &webp.Options{Quality: float32(clamp(*quality, 0, 100))}
		}
		if err := webp.Encode(&buf, m, opt); err != nil {
			return nil, fmt.Errorf("error encoding WebP: %v", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
