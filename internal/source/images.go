package source

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	// Register image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	// BMP and WebP support from x/image
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}

// ImageSequence plays a directory of still images, in file name order, as
// video frames. Each image is decoded and resized when it is needed.
type ImageSequence struct {
	dir    string
	files  []string
	width  int
	height int
	pos    int
	loops  int
	meta   Metadata
}

// NewImageSequence lists the images in dir and checks the first one decodes.
func NewImageSequence(dir string, width, height int) (*ImageSequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading image directory: %w", err)
	}

	var (
		files []string
		total int64
	)
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
		if fi, err := e.Info(); err == nil {
			total += fi.Size()
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoVideo)
	}
	slices.Sort(files)

	first, err := decodeImage(files[0])
	if err != nil {
		return nil, err
	}
	b := first.Bounds()

	return &ImageSequence{
		dir:    dir,
		files:  files,
		width:  width,
		height: height,
		meta: Metadata{
			Kind:       KindImageSequence,
			Path:       dir,
			Width:      b.Dx(),
			Height:     b.Dy(),
			Frames:     int64(len(files)),
			SizeBytes:  total,
			FrameBytes: FrameSize(width, height),
		},
	}, nil
}

// Metadata describes the sequence. FrameRate is always 0.
func (s *ImageSequence) Metadata() Metadata {
	return s.meta
}

// Loops returns how many times the sequence wrapped around.
func (s *ImageSequence) Loops() int {
	return s.loops
}

// Next decodes the next image. After the last image it rewinds and
// returns ErrRestarted.
func (s *ImageSequence) Next() ([]byte, error) {
	if s.pos >= len(s.files) {
		s.pos = 0
		s.loops++
		return nil, ErrRestarted
	}

	path := s.files[s.pos]
	s.pos++

	img, err := decodeImage(path)
	if err != nil {
		return nil, err
	}
	return ToBGR(img, s.width, s.height), nil
}

// Close is a no-op; files are opened per frame.
func (s *ImageSequence) Close() error {
	return nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s (format=%s): %w", path, format, err)
	}
	return img, nil
}

// ToBGR resizes img to width x height with bilinear interpolation and packs
// it as BGR24.
func ToBGR(img image.Image, width, height int) []byte {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]byte, FrameSize(width, height))
	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+width*4]
		o := y * width * 3
		for x := 0; x < width; x++ {
			out[o+x*3] = row[x*4+2]
			out[o+x*3+1] = row[x*4+1]
			out[o+x*3+2] = row[x*4]
		}
	}
	return out
}
