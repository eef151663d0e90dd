package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"golang.org/x/image/font/gofont/goregular"

	"imageflow/internal/models"
)

// jpegQuality is the fixed re-encode quality for transcoded output.
const jpegQuality = 50

// FetchError reports a failure to retrieve the source image bytes, either a
// transport error or a non-2xx response.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// TranscodeError reports a failure to decode, transform, or re-encode the
// fetched bytes.
type TranscodeError struct {
	URL string
	Err error
}

func (e *TranscodeError) Error() string { return fmt.Sprintf("transcode %s: %v", e.URL, e.Err) }
func (e *TranscodeError) Unwrap() error { return e.Err }

// Transcoder fetches one source image over HTTP and re-encodes it as JPEG,
// optionally stamping a watermark text onto the frame. Output lands under
// storagePath/processed and is referenced by the path it is served from.
type Transcoder struct {
	client      *http.Client
	storagePath string
	watermark   string
	font        *truetype.Font
}

func NewTranscoder(cfg *models.Config) (*Transcoder, error) {
	const op = "pipeline.NewTranscoder"

	t := &Transcoder{
		client:      &http.Client{Timeout: cfg.FetchTimeout()},
		storagePath: cfg.StoragePath,
		watermark:   cfg.WatermarkText,
	}
	if t.watermark != "" {
		f, err := freetype.ParseFont(goregular.TTF)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		t.font = f
	}
	return t, nil
}

// Process fetches url, transcodes it, writes the result to disk, and
// returns the served path of the output. This is the only externally
// observable side effect of the worker.
func (t *Transcoder) Process(ctx context.Context, url string, requestID uuid.UUID, productCode string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	src, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", &TranscodeError{URL: url, Err: err}
	}
	if t.watermark != "" {
		src, err = t.stamp(src)
		if err != nil {
			return "", &TranscodeError{URL: url, Err: err}
		}
	}

	sum := sha256.Sum256([]byte(url))
	name := hex.EncodeToString(sum[:8]) + ".jpg"
	dir := filepath.Join(t.storagePath, "processed", requestID.String(), productCode)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &TranscodeError{URL: url, Err: err}
	}
	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", &TranscodeError{URL: url, Err: err}
	}
	defer out.Close()
	if err := imaging.Encode(out, src, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", &TranscodeError{URL: url, Err: err}
	}

	return "/files/processed/" + requestID.String() + "/" + productCode + "/" + name, nil
}

// stamp draws the configured watermark text in the bottom-left corner.
func (t *Transcoder) stamp(src image.Image) (image.Image, error) {
	dst := imaging.Clone(src)

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(t.font)
	size := float64(dst.Bounds().Dy()) / 20
	if size < 12 {
		size = 12
	}
	c.SetFontSize(size)
	c.SetClip(dst.Bounds())
	c.SetDst(dst)
	c.SetSrc(image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 200}))

	pt := freetype.Pt(10, dst.Bounds().Dy()-10)
	if _, err := c.DrawString(t.watermark, pt); err != nil {
		return nil, err
	}
	return dst, nil
}
