package captcha

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Recognizer is the injected OCR capability: raw captcha image bytes in,
// recognized text out. The solver treats it as a black box.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// RecognizerFunc adapts a plain function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, image []byte) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// TesseractRecognizer runs a local tesseract binary in single-line mode.
// It keeps the module cgo-free; any engine that can read an image file and
// print text works behind the Recognizer interface.
type TesseractRecognizer struct {
	// Binary is the tesseract executable, "tesseract" when empty.
	Binary string
}

func (r TesseractRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "tesseract"
	}

	dir, err := os.MkdirTemp("", "captcha")
	if err != nil {
		return "", fmt.Errorf("captcha: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "captcha.png")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return "", fmt.Errorf("captcha: write image: %w", err)
	}

	// --psm 7: treat the image as a single text line.
	cmd := exec.CommandContext(ctx, bin, path, "stdout", "--psm", "7")
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("captcha: tesseract: %w: %s", err, stderr.String())
	}
	return out.String(), nil
}
