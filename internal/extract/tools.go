package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PageImageName returns the file name of the render of 1-based page n.
func PageImageName(n int) string {
	return fmt.Sprintf("page_%04d.png", n)
}

// PdftoppmRenderer rasterises single pages to PNG with poppler's pdftoppm.
type PdftoppmRenderer struct {
	runner Runner
}

// NewPdftoppmRenderer returns a renderer that runs pdftoppm through runner.
func NewPdftoppmRenderer(runner Runner) *PdftoppmRenderer {
	return &PdftoppmRenderer{runner: runner}
}

// Available returns ErrToolMissing when pdftoppm is not installed.
func (r *PdftoppmRenderer) Available() error { return r.runner.LookPath("pdftoppm") }

// Render writes page n of pdfPath to outPath (which must end in .png) at
// the given DPI, creating parent directories as needed.
func (r *PdftoppmRenderer) Render(ctx context.Context, pdfPath string, n int, outPath string, dpi int) error {
	if !strings.HasSuffix(outPath, ".png") {
		return fmt.Errorf("extract: render output %q must end in .png", outPath)
	}
	if dpi <= 0 {
		return fmt.Errorf("extract: render dpi must be positive, got %d", dpi)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("extract: create render dir: %w", err)
	}

	page := strconv.Itoa(n)
	// -singlefile appends ".png" to the output prefix itself.
	prefix := strings.TrimSuffix(outPath, ".png")
	res, err := r.runner.Run(ctx, "pdftoppm",
		"-r", strconv.Itoa(dpi),
		"-f", page, "-l", page,
		"-png", "-singlefile",
		pdfPath, prefix,
	)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return failure("pdftoppm", res)
	}
	return nil
}

// TesseractOCR runs tesseract in English, LSTM mode, single text block.
type TesseractOCR struct {
	runner Runner
}

// NewTesseractOCR returns an OCR engine that runs tesseract through runner.
func NewTesseractOCR(runner Runner) *TesseractOCR {
	return &TesseractOCR{runner: runner}
}

// Available returns ErrToolMissing when tesseract is not installed.
func (o *TesseractOCR) Available() error { return o.runner.LookPath("tesseract") }

// Text returns the trimmed OCR text of the image at imagePath. An image with
// no recognisable text yields "".
func (o *TesseractOCR) Text(ctx context.Context, imagePath string) (string, error) {
	res, err := o.runner.Run(ctx, "tesseract", imagePath, "stdout",
		"-l", "eng", "--oem", "1", "--psm", "6",
	)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", failure("tesseract", res)
	}
	return strings.TrimSpace(res.Stdout), nil
}
