package services

import (
	"bytes"
	"context"
	"image"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

func TestAssetCacheDownscalesLargeImages(t *testing.T) {
	cache := newTestAssetCache(t)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(cache.seal))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != maxAssetPx || cfg.Height != 320 {
		t.Fatalf("seal size: want=%dx320 got=%dx%d", maxAssetPx, cfg.Width, cfg.Height)
	}
	cfg, _, err = image.DecodeConfig(bytes.NewReader(cache.logo))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 64 {
		t.Fatalf("logo size: want=64x64 got=%dx%d", cfg.Width, cfg.Height)
	}
}

func TestAssetCacheMissingAssetFailsFast(t *testing.T) {
	dir := t.TempDir()
	_, err := NewAssetCache(context.Background(), logger.Nop(), AssetOptions{Dir: dir})
	if err == nil {
		t.Fatalf("NewAssetCache: expected error for empty asset dir")
	}

	_, err = NewAssetCache(context.Background(), logger.Nop(), AssetOptions{
		Dir:         dir,
		FontRegular: filepath.Join(dir, "regular.ttf"),
	})
	if err == nil {
		t.Fatalf("NewAssetCache: expected error for a lone regular font")
	}
}

func TestAssetCacheRejectsInvalidFont(t *testing.T) {
	dir := t.TempDir()
	font := filepath.Join(dir, "bad.ttf")
	writePNG(t, font, 4, 4, image.Black.C)
	if _, err := loadFont(font); err == nil {
		t.Fatalf("loadFont: expected parse error for a non-TTF file")
	}
}

func TestAssetCacheQRCodeIsSharedPerLink(t *testing.T) {
	cache := newTestAssetCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := cache.QRCode(ctx, "https://example.com/a")
			if err != nil {
				t.Errorf("QRCode: %v", err)
				return
			}
			results[i] = b
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		if !bytes.Equal(results[0], results[i]) {
			t.Fatalf("QRCode result %d differs", i)
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(results[0]))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != qrSizePx || cfg.Height != qrSizePx {
		t.Fatalf("qr size: want=%d got=%dx%d", qrSizePx, cfg.Width, cfg.Height)
	}

	if _, err := cache.QRCode(ctx, "   "); err == nil {
		t.Fatalf("QRCode: expected error for empty link")
	}
}
