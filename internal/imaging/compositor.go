// Package imaging builds the side-by-side battle image from two token
// images and stores it in object storage.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// Config holds compositor settings.
type Config struct {
	// Tile is the edge length of each half of the output image.
	Tile     int
	Timeout  time.Duration
	MaxBytes int64
	// Prefix is the object key prefix for stored images.
	Prefix string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Tile:     256,
		Timeout:  15 * time.Second,
		MaxBytes: 5 << 20,
		Prefix:   "battles",
	}
}

// Compositor implements domain.ImageCompositor.
type Compositor struct {
	writer     domain.BlobWriter
	reader     domain.BlobReader
	deleter    domain.BlobDeleter
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

var _ domain.ImageCompositor = (*Compositor)(nil)

// NewCompositor creates a Compositor. reader may be nil, in which case an
// existing image is always overwritten. deleter may be nil, in which case
// Discard leaves the object in place.
func NewCompositor(writer domain.BlobWriter, reader domain.BlobReader, deleter domain.BlobDeleter, cfg Config, logger *slog.Logger) *Compositor {
	def := DefaultConfig()
	if cfg.Tile <= 0 {
		cfg.Tile = def.Tile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	return &Compositor{
		writer:     writer,
		reader:     reader,
		deleter:    deleter,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "imaging")),
	}
}

// Composite downloads both images, places them side by side and returns
// the public URL of the stored PNG.
func (c *Compositor) Composite(ctx context.Context, marketID, imageURL1, imageURL2 string) (string, error) {
	if imageURL1 == "" || imageURL2 == "" {
		return "", fmt.Errorf("imaging: market %s: %w", marketID, domain.ErrMissingImage)
	}

	path := c.path(marketID)
	if c.reader != nil {
		exists, err := c.reader.Exists(ctx, path)
		if err != nil {
			c.logger.WarnContext(ctx, "blob existence check failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else if exists {
			return c.writer.URL(path), nil
		}
	}

	var left, right image.Image
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		left, err = c.fetch(gctx, imageURL1)
		return err
	})
	g.Go(func() (err error) {
		right, err = c.fetch(gctx, imageURL2)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("imaging: market %s: %w", marketID, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, SideBySide(left, right, c.cfg.Tile)); err != nil {
		return "", fmt.Errorf("imaging: encode: %w", err)
	}
	if err := c.writer.Put(ctx, path, &buf, "image/png"); err != nil {
		return "", fmt.Errorf("imaging: upload %s: %w", path, err)
	}

	c.logger.InfoContext(ctx, "battle image stored",
		slog.String("market_id", marketID),
		slog.String("path", path),
	)
	return c.writer.URL(path), nil
}

// Discard deletes the stored image of marketID.
func (c *Compositor) Discard(ctx context.Context, marketID string) error {
	if c.deleter == nil {
		return nil
	}
	path := c.path(marketID)
	if err := c.deleter.Delete(ctx, path); err != nil {
		return fmt.Errorf("imaging: discard %s: %w", path, err)
	}
	c.logger.InfoContext(ctx, "battle image discarded",
		slog.String("market_id", marketID),
		slog.String("path", path),
	)
	return nil
}

func (c *Compositor) path(marketID string) string {
	return fmt.Sprintf("%s/%s.png", c.cfg.Prefix, marketID)
}

// SideBySide scales a and b into tile x tile squares and joins them
// horizontally on a white background.
func SideBySide(a, b image.Image, tile int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, 2*tile, tile))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(dst, image.Rect(0, 0, tile, tile), a, a.Bounds(), draw.Over, nil)
	draw.ApproxBiLinear.Scale(dst, image.Rect(tile, 0, 2*tile, tile), b, b.Bounds(), draw.Over, nil)
	return dst
}

func (c *Compositor) fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrMissingImage, url, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s: %w", domain.ErrMissingImage, domain.ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: HTTP %d", domain.ErrMissingImage, url, resp.StatusCode)
	}

	img, format, err := image.Decode(io.LimitReader(resp.Body, c.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrMissingImage, url, err)
	}
	c.logger.DebugContext(ctx, "image fetched", slog.String("url", url), slog.String("format", format))
	return img, nil
}
