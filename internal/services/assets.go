package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

const (
	// Raster assets are drawn at 80pt; anything larger than this is downscaled
	// once at load time so every document does not embed the full original.
	maxAssetPx = 480
	qrSizePx   = 280
	qrQuietPx  = 16
	maxQRCache = 256
)

// CertificateAssets is the bundle of resources one render needs. Images are
// PNG-encoded; fonts are optional TrueType programs (nil means the built-in
// Times faces).
type CertificateAssets struct {
	Logo        []byte
	Seal        []byte
	QR          []byte
	FontRegular []byte
	FontBold    []byte
}

// Missing names the first absent required asset, or "" when all are present.
func (a *CertificateAssets) Missing() string {
	switch {
	case a == nil:
		return "assets"
	case len(a.Logo) == 0:
		return "logo"
	case len(a.Seal) == 0:
		return "seal"
	case len(a.QR) == 0:
		return "qr code"
	default:
		return ""
	}
}

func (a *CertificateAssets) hasFonts() bool {
	return len(a.FontRegular) > 0 && len(a.FontBold) > 0
}

type AssetOptions struct {
	Dir         string
	LogoFile    string
	SealFile    string
	FontRegular string
	FontBold    string
}

// AssetCache loads the static template assets once and derives QR codes per
// link. Static assets never change while the process runs, so there is no
// invalidation.
type AssetCache struct {
	log *logger.Logger

	logo        []byte
	seal        []byte
	fontRegular []byte
	fontBold    []byte

	qrGroup singleflight.Group
	qrMu    sync.RWMutex
	qr      map[string][]byte
}

func NewAssetCache(ctx context.Context, log *logger.Logger, opts AssetOptions) (*AssetCache, error) {
	serviceLog := log.With("service", "AssetCache")
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("image assets dir is required")
	}
	if opts.LogoFile == "" {
		opts.LogoFile = "proprime_logo.png"
	}
	if opts.SealFile == "" {
		opts.SealFile = "seal.png"
	}

	customFonts := opts.FontRegular != "" || opts.FontBold != ""
	if customFonts && (opts.FontRegular == "" || opts.FontBold == "") {
		return nil, fmt.Errorf("custom fonts need both a regular and a bold face")
	}

	c := &AssetCache{log: serviceLog, qr: map[string][]byte{}}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := loadRaster(filepath.Join(opts.Dir, opts.LogoFile), maxAssetPx)
		if err != nil {
			return fmt.Errorf("load logo: %w", err)
		}
		c.logo = b
		return nil
	})
	g.Go(func() error {
		b, err := loadRaster(filepath.Join(opts.Dir, opts.SealFile), maxAssetPx)
		if err != nil {
			return fmt.Errorf("load seal: %w", err)
		}
		c.seal = b
		return nil
	})
	if customFonts {
		g.Go(func() error {
			b, err := loadFont(opts.FontRegular)
			if err != nil {
				return fmt.Errorf("load regular font: %w", err)
			}
			c.fontRegular = b
			return nil
		})
		g.Go(func() error {
			b, err := loadFont(opts.FontBold)
			if err != nil {
				return fmt.Errorf("load bold font: %w", err)
			}
			c.fontBold = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	serviceLog.Info("Certificate assets loaded",
		"dir", opts.Dir,
		"logo_bytes", len(c.logo),
		"seal_bytes", len(c.seal),
		"custom_fonts", c.fontRegular != nil,
	)
	return c, nil
}

// ForRequest returns the asset bundle for a request, generating (or reusing)
// the QR image for its link.
func (c *AssetCache) ForRequest(ctx context.Context, req certificate.Request) (*CertificateAssets, error) {
	qr, err := c.QRCode(ctx, req.QRLink)
	if err != nil {
		return nil, err
	}
	return &CertificateAssets{
		Logo:        c.logo,
		Seal:        c.seal,
		QR:          qr,
		FontRegular: c.fontRegular,
		FontBold:    c.fontBold,
	}, nil
}

// QRCode returns a PNG QR code for link. Concurrent requests for the same
// link share a single encode.
func (c *AssetCache) QRCode(ctx context.Context, link string) ([]byte, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, fmt.Errorf("qr link is empty")
	}

	c.qrMu.RLock()
	cached, ok := c.qr[link]
	c.qrMu.RUnlock()
	if ok {
		return cached, nil
	}

	ch := c.qrGroup.DoChan(link, func() (interface{}, error) {
		b, err := encodeQR(link)
		if err != nil {
			return nil, err
		}
		c.qrMu.Lock()
		if len(c.qr) >= maxQRCache {
			c.qr = make(map[string][]byte, maxQRCache)
		}
		c.qr[link] = b
		c.qrMu.Unlock()
		return b, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func encodeQR(link string) ([]byte, error) {
	q, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	q.DisableBorder = true
	code := q.Image(qrSizePx - 2*qrQuietPx)

	size := qrSizePx
	dc := gg.NewContext(size, size)
	dc.SetColor(color.White)
	dc.DrawRectangle(0, 0, float64(size), float64(size))
	dc.Fill()
	dc.DrawImage(code, qrQuietPx, qrQuietPx)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode qr png: %w", err)
	}
	return buf.Bytes(), nil
}

// loadRaster decodes a PNG or JPEG, downscales it to fit maxPx and re-encodes
// it as PNG.
func loadRaster(path string, maxPx int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	img = fitWithin(img, maxPx)

	dc := gg.NewContextForImage(img)
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithin(img image.Image, maxPx int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxPx && h <= maxPx {
		return img
	}
	scale := float64(maxPx) / float64(w)
	if h > w {
		scale = float64(maxPx) / float64(h)
	}
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func loadFont(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	if _, err := truetype.Parse(b); err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return b, nil
}
