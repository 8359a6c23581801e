package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/certsig-backend/internal/data/register"
	"github.com/yungbote/certsig-backend/internal/data/repos"
	"github.com/yungbote/certsig-backend/internal/data/repos/testutil"
	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/dbctx"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

func readRegister(t *testing.T, path string) []certificate.SerialRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open register: %v", err)
	}
	defer f.Close()
	recs, err := register.ReadCSV(f)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	return recs
}

func TestIssuerIssuesAndPersists(t *testing.T) {
	fx := newIssuerFixture(t, registerHeader+
		"0001,2024-12-01,Doe,u0,yes\n"+
		"1010,,,,\n"+
		"1011,,,,\n", IssuerDeps{Metrics: observability.NewMetrics()})

	got, err := fx.issuer.Issue(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got.Serial != "1010" {
		t.Fatalf("serial: want=%q got=%q", "1010", got.Serial)
	}
	if got.FileName != "Jane_Q_Public_2025-01-15_1010.pdf" {
		t.Fatalf("file name: got=%q", got.FileName)
	}
	wantPath := filepath.Join(fx.outputRoot, "u1_certificates", "Jane_Q_Public_2025-01-15_1010.pdf")
	if got.Path != wantPath {
		t.Fatalf("path: want=%q got=%q", wantPath, got.Path)
	}
	onDisk, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatalf("read issued file: %v", err)
	}
	if string(onDisk) != string(got.Document) {
		t.Fatalf("persisted bytes differ from returned document")
	}

	recs := readRegister(t, fx.registerPath)
	want := certificate.SerialRecord{Serial: "1010", IssuedDate: "2025-01-15", OwnerSurname: "Public", UserID: "u1", Used: "yes"}
	if recs[1] != want {
		t.Fatalf("claimed row: want=%+v got=%+v", want, recs[1])
	}
	if !recs[2].Available() {
		t.Fatalf("row 1011 should still be available")
	}
}

func TestIssuerValidationHasNoSideEffects(t *testing.T) {
	content := registerRows(2)
	fx := newIssuerFixture(t, content, IssuerDeps{})

	cases := map[string]func(r *certificate.Request){
		"owner":     func(r *certificate.Request) { r.OwnerName = "   " },
		"user":      func(r *certificate.Request) { r.UserID = "" },
		"traversal": func(r *certificate.Request) { r.UserID = "../etc" },
		"owner-sep": func(r *certificate.Request) { r.OwnerName = "../../escaped/AC/DC" },
		"owner-bs":  func(r *certificate.Request) { r.OwnerName = `AC\DC` },
		"owner-nul": func(r *certificate.Request) { r.OwnerName = "AC\x00DC" },
	}
	for name, mutate := range cases {
		req := testRequest()
		mutate(&req)
		_, err := fx.issuer.Issue(context.Background(), req)
		if !errors.Is(err, certificate.ErrValidation) {
			t.Fatalf("%s: want ErrValidation got=%v", name, err)
		}
	}

	after, err := os.ReadFile(fx.registerPath)
	if err != nil {
		t.Fatalf("read register: %v", err)
	}
	if string(after) != content {
		t.Fatalf("register changed by rejected requests")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(fx.outputRoot), "escaped")); !os.IsNotExist(err) {
		t.Fatalf("directory created outside the output root, stat err=%v", err)
	}
}

func TestIssuerRenderPreflightDoesNotConsumeSerial(t *testing.T) {
	fx := newIssuerFixture(t, registerRows(1), IssuerDeps{})

	req := testRequest()
	req.PrometheanName = ""
	_, err := fx.issuer.Issue(context.Background(), req)
	if !errors.Is(err, certificate.ErrRender) {
		t.Fatalf("Issue: want ErrRender got=%v", err)
	}
	if s := certificate.OrphanedSerial(err); s != "" {
		t.Fatalf("orphaned serial: want none got=%q", s)
	}

	req = testRequest()
	req.QRLink = ""
	if _, err := fx.issuer.Issue(context.Background(), req); !errors.Is(err, certificate.ErrRender) {
		t.Fatalf("Issue without qr link: want ErrRender got=%v", err)
	}

	// Without TTF fonts configured these names cannot be printed.
	req = testRequest()
	req.OwnerName = "李 雷"
	_, err = fx.issuer.Issue(context.Background(), req)
	if !errors.Is(err, certificate.ErrRender) {
		t.Fatalf("Issue with cjk owner name: want ErrRender got=%v", err)
	}
	if s := certificate.OrphanedSerial(err); s != "" {
		t.Fatalf("cjk owner name: orphaned serial want none got=%q", s)
	}
	if !readRegister(t, fx.registerPath)[0].Available() {
		t.Fatalf("serial consumed by a request that could never render")
	}
}

func TestIssuerExhausted(t *testing.T) {
	fx := newIssuerFixture(t, registerHeader+"0001,2024-12-01,Doe,u0,yes\n", IssuerDeps{})
	_, err := fx.issuer.Issue(context.Background(), testRequest())
	if !errors.Is(err, certificate.ErrRegisterExhausted) {
		t.Fatalf("Issue: want ErrRegisterExhausted got=%v", err)
	}
	if certificate.KindCode(err) != "register_exhausted" {
		t.Fatalf("kind code: got=%q", certificate.KindCode(err))
	}
}

func TestIssuerPersistenceFailureReportsOrphanedSerial(t *testing.T) {
	db := testutil.DB(t)
	events := repos.NewIssuanceEventRepo(db, logger.Nop())
	fx := newIssuerFixture(t, registerRows(2), IssuerDeps{Events: events})

	// A regular file where the user directory should be makes MkdirAll fail.
	if err := os.WriteFile(filepath.Join(fx.outputRoot, "u1_certificates"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	_, err := fx.issuer.Issue(context.Background(), testRequest())
	if !errors.Is(err, certificate.ErrPersistence) {
		t.Fatalf("Issue: want ErrPersistence got=%v", err)
	}
	serial := certificate.OrphanedSerial(err)
	if serial != serialFor(0) {
		t.Fatalf("orphaned serial: want=%q got=%q", serialFor(0), serial)
	}
	if !strings.Contains(err.Error(), serial) {
		t.Fatalf("error message should name the serial: %v", err)
	}
	if readRegister(t, fx.registerPath)[0].Available() {
		t.Fatalf("claimed serial should stay consumed")
	}

	evs, err := events.ListBySerial(dbctx.Context{Ctx: context.Background()}, serial)
	if err != nil {
		t.Fatalf("ListBySerial: %v", err)
	}
	if len(evs) != 1 || evs[0].Status != certificate.IssuanceStatusOrphaned || evs[0].ErrorKind != "persistence_error" {
		t.Fatalf("audit events: got=%+v", evs)
	}
}

type failingRender struct {
	*Assembler
	err error
}

func (f failingRender) Render(certificate.Request, string, *CertificateAssets, time.Time) ([]byte, error) {
	return nil, f.err
}

func TestIssuerRenderFailureReportsOrphanedSerial(t *testing.T) {
	db := testutil.DB(t)
	events := repos.NewIssuanceEventRepo(db, logger.Nop())
	metrics := observability.NewMetrics()
	fx := newIssuerFixture(t, registerRows(2), IssuerDeps{
		Events:    events,
		Metrics:   metrics,
		Assembler: failingRender{Assembler: NewAssembler(logger.Nop()), err: errors.New("page overflow")},
	})

	_, err := fx.issuer.Issue(context.Background(), testRequest())
	if !errors.Is(err, certificate.ErrRender) {
		t.Fatalf("Issue: want ErrRender got=%v", err)
	}
	serial := certificate.OrphanedSerial(err)
	if serial != serialFor(0) {
		t.Fatalf("orphaned serial: want=%q got=%q", serialFor(0), serial)
	}
	recs := readRegister(t, fx.registerPath)
	if recs[0].Available() {
		t.Fatalf("claimed serial should stay consumed")
	}
	if !recs[1].Available() {
		t.Fatalf("row %s should still be available", serialFor(1))
	}
	if entries, _ := os.ReadDir(fx.outputRoot); len(entries) != 0 {
		t.Fatalf("no output expected after a render failure, got %d entries", len(entries))
	}

	evs, err := events.ListBySerial(dbctx.Context{Ctx: context.Background()}, serial)
	if err != nil {
		t.Fatalf("ListBySerial: %v", err)
	}
	if len(evs) != 1 || evs[0].Status != certificate.IssuanceStatusOrphaned || evs[0].ErrorKind != "render_error" {
		t.Fatalf("audit events: got=%+v", evs)
	}
}

func TestIssuerConcurrentIssuesAreUnique(t *testing.T) {
	const rows, callers = 12, 10
	fx := newIssuerFixture(t, registerRows(rows), IssuerDeps{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		serials = map[string]bool{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := testRequest()
			// Half the callers share a user id so they race on one directory.
			if i%2 == 1 {
				req.UserID = "u2"
			}
			got, err := fx.issuer.Issue(context.Background(), req)
			if err != nil {
				t.Errorf("Issue(%d): %v", i, err)
				return
			}
			if _, err := os.Stat(got.Path); err != nil {
				t.Errorf("Issue(%d): stat output: %v", i, err)
			}
			mu.Lock()
			serials[got.Serial] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(serials) != callers {
		t.Fatalf("distinct serials: want=%d got=%d", callers, len(serials))
	}
	used := 0
	for _, rec := range readRegister(t, fx.registerPath) {
		if !rec.Available() {
			used++
			if !serials[rec.Serial] {
				t.Fatalf("register marks %s used but no caller received it", rec.Serial)
			}
		}
	}
	if used != callers {
		t.Fatalf("used rows: want=%d got=%d", callers, used)
	}
}

func TestIssuerBlockchainIsNotTakenFromRequest(t *testing.T) {
	fx := newIssuerFixture(t, registerRows(1), IssuerDeps{})
	req := testRequest()
	req.Blockchain = "Other"
	got, err := fx.issuer.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(got.Document) == 0 {
		t.Fatalf("empty document")
	}
}
