package sim

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
)

// writePlaceholderPNG writes a minimal valid PNG so screenshot consumers
// downstream (artifact sinks, report tooling) handle real image files.
func writePlaceholderPNG(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
