package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// ============================================================================
// Luminance sampler
// ============================================================================
//
// A Sampler owns one camera handle for the lifetime of a capture session:
//
//   Open   -> once per session (device index, manual exposure, fps)
//   Sample -> once per tick; one frame reduced to its grayscale mean
//   Close  -> releases the device; waits for an in-flight read first
//
// Frame reads on real hardware can block indefinitely. captureSampler runs each
// read on its own goroutine and bounds it with the caller's context.
// ============================================================================

// CameraSettings is the open-time camera configuration.
type CameraSettings struct {
	DeviceIndex int
	Exposure    int
	FPS         int
}

// LuminanceSample is the reduction of one frame.
type LuminanceSample struct {
	Luminance float64 // mean 8-bit grayscale intensity, 0..255
	Width     int
	Height    int
	At        time.Time
}

// Sampler is the capability the effects layer uses to read frames.
type Sampler interface {
	Open(ctx context.Context, settings CameraSettings) error
	Sample(ctx context.Context) (LuminanceSample, error)
	Close() error
}

// frameSource is a blocking camera backend (gocv in production).
type frameSource interface {
	open(settings CameraSettings) error
	// readLuminance blocks until one frame is read and reduced.
	readLuminance() (lum float64, width, height int, err error)
	close() error
}

type readResult struct {
	lum           float64
	width, height int
	err           error
}

// captureSampler adapts a blocking frameSource to the Sampler contract.
type captureSampler struct {
	src frameSource
	now func() time.Time

	// releaseWait bounds how long Close waits for an in-flight read.
	releaseWait time.Duration

	mu       sync.Mutex
	opened   bool
	inflight chan struct{} // closed when the outstanding read returns; nil if none

	// closeDeferred is set when Close could not wait out a stuck read;
	// the reader goroutine releases the device when it returns.
	closeDeferred bool
}

func newCaptureSampler(src frameSource) *captureSampler {
	return &captureSampler{src: src, now: time.Now, releaseWait: maxFrameReadTimeout}
}

func (c *captureSampler) Open(ctx context.Context, settings CameraSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("%w: camera already open", ErrCameraUnavailable)
	}
	if c.inflight != nil {
		return fmt.Errorf("%w: previous session still releasing the device", ErrCameraUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	if err := c.src.open(settings); err != nil {
		return err
	}
	c.opened = true
	return nil
}

func (c *captureSampler) Sample(ctx context.Context) (LuminanceSample, error) {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return LuminanceSample{}, fmt.Errorf("%w: camera not open", ErrCameraUnavailable)
	}
	if c.inflight != nil {
		// The previous read never came back.
		c.mu.Unlock()
		return LuminanceSample{}, fmt.Errorf("%w: previous read still outstanding", ErrFrameTimeout)
	}
	done := make(chan struct{})
	c.inflight = done
	c.mu.Unlock()

	results := make(chan readResult, 1)
	go func() {
		lum, w, h, err := c.src.readLuminance()

		// The deferred release runs under the lock so a concurrent Open
		// cannot acquire the device before it is closed.
		c.mu.Lock()
		if c.closeDeferred {
			c.closeDeferred = false
			_ = c.src.close()
		}
		c.inflight = nil
		c.mu.Unlock()
		close(done)

		results <- readResult{lum: lum, width: w, height: h, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return LuminanceSample{}, r.err
		}
		return LuminanceSample{Luminance: r.lum, Width: r.width, Height: r.height, At: c.now()}, nil
	case <-ctx.Done():
		return LuminanceSample{}, fmt.Errorf("%w: %v", ErrFrameTimeout, ctx.Err())
	}
}

// Close releases the camera. It is safe to call on a closed sampler.
func (c *captureSampler) Close() error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return nil
	}
	c.opened = false
	done := c.inflight
	c.mu.Unlock()

	if done != nil {
		timer := time.NewTimer(c.releaseWait)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			c.mu.Lock()
			if c.inflight != nil {
				c.closeDeferred = true
				c.mu.Unlock()
				return fmt.Errorf("%w: read still blocked, device release deferred", ErrFrameTimeout)
			}
			c.mu.Unlock()
		}
	}
	return c.src.close()
}

// ============================================================================
// Pure-Go helpers
// ============================================================================

// MeanLuminance returns the mean 8-bit grayscale intensity of img.
// Empty images return 0.
func MeanLuminance(img image.Image) float64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n <= 0 {
		return 0
	}

	var sum uint64
	if g, ok := img.(*image.Gray); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)]
			for _, p := range row {
				sum += uint64(p)
			}
		}
		return float64(sum) / float64(n)
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += uint64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return float64(sum) / float64(n)
}

// PreviewImage renders a w x h box filled with the luminance level.
func PreviewImage(luminance float64, w, h int) *image.Gray {
	if w <= 0 {
		w = defaultPreviewWidth
	}
	if h <= 0 {
		h = defaultPreviewHeight
	}
	v := luminance
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	y := uint8(v + 0.5)
	for i := range img.Pix {
		img.Pix[i] = y
	}
	return img
}

// EncodePreviewJPEG renders and encodes the preview box.
func EncodePreviewJPEG(luminance float64, w, h int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, PreviewImage(luminance, w, h), &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
