package services

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fogleman/gg"

	"github.com/yungbote/certsig-backend/internal/data/register"
	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

var testIssueDate = time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC)

const registerHeader = "serial,issuedDate,ownerSurname,userId,used\n"

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	dc := gg.NewContext(w, h)
	dc.SetColor(c)
	dc.DrawCircle(float64(w)/2, float64(h)/2, float64(w)/3)
	dc.Fill()
	if err := dc.SavePNG(path); err != nil {
		t.Fatalf("SavePNG(%s): %v", path, err)
	}
}

func newTestAssetCache(t *testing.T) *AssetCache {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "proprime_logo.png"), 64, 64, color.NRGBA{R: 200, A: 255})
	writePNG(t, filepath.Join(dir, "seal.png"), 900, 600, color.NRGBA{B: 200, A: 255})
	cache, err := NewAssetCache(context.Background(), logger.Nop(), AssetOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewAssetCache: %v", err)
	}
	return cache
}

func testRequest() certificate.Request {
	return certificate.Request{
		OwnerName:      "Jane Q Public",
		PrometheanName: "Athena",
		Edition:        "Genesis 1/100",
		NFTID:          "0xabc123",
		UserID:         "u1",
		QRLink:         "https://example.com/nft/0xabc123",
	}
}

type issuerFixture struct {
	issuer       CertificateIssuer
	registerPath string
	outputRoot   string
}

func newIssuerFixture(t *testing.T, registerCSV string, deps IssuerDeps) issuerFixture {
	t.Helper()
	regPath := filepath.Join(t.TempDir(), "serials.csv")
	if err := os.WriteFile(regPath, []byte(registerCSV), 0o644); err != nil {
		t.Fatalf("write register: %v", err)
	}
	table, err := register.NewFileTable(regPath, logger.Nop())
	if err != nil {
		t.Fatalf("NewFileTable: %v", err)
	}
	outRoot := filepath.Join(t.TempDir(), "out")
	store, err := NewArtifactStore(outRoot, logger.Nop())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	deps.Register = register.Instrument(table, deps.Metrics)
	deps.Assets = newTestAssetCache(t)
	deps.Store = store
	if deps.Now == nil {
		deps.Now = func() time.Time { return testIssueDate }
	}
	issuer, err := NewCertificateIssuer(logger.Nop(), deps)
	if err != nil {
		t.Fatalf("NewCertificateIssuer: %v", err)
	}
	return issuerFixture{issuer: issuer, registerPath: regPath, outputRoot: store.Root()}
}

func registerRows(n int) string {
	out := registerHeader
	for i := 0; i < n; i++ {
		out += serialFor(i) + ",,,,\n"
	}
	return out
}

func serialFor(i int) string {
	return "10" + string(rune('A'+i/26)) + string(rune('a'+i%26))
}
