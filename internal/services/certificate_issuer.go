package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"github.com/yungbote/certsig-backend/internal/data/register"
	"github.com/yungbote/certsig-backend/internal/data/repos"
	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/dbctx"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

// CertificateIssuer runs one issuance: claim a serial, render the document
// and persist it.
//
// The claim is committed before the document exists. A render or persistence
// failure therefore leaves the serial consumed with no document behind it;
// such errors carry the serial (certificate.OrphanedSerial) and are logged,
// counted and recorded in the audit trail for manual reconciliation.
type CertificateIssuer interface {
	Issue(ctx context.Context, req certificate.Request) (*certificate.Issued, error)
}

// DocumentAssembler renders certificates. Check must reject everything Render
// can reject without a serial.
type DocumentAssembler interface {
	Check(req certificate.Request, assets *CertificateAssets) error
	Render(req certificate.Request, serial string, assets *CertificateAssets, issueDate time.Time) ([]byte, error)
}

type IssuerDeps struct {
	Register  register.Table
	Assets    *AssetCache
	Assembler DocumentAssembler
	Store     *ArtifactStore
	// Optional.
	Archiver *Archiver
	Events   repos.IssuanceEventRepo
	Metrics  *observability.Metrics

	Blockchain string
	Now        func() time.Time
}

type certificateIssuer struct {
	log        *logger.Logger
	register   register.Table
	assets     *AssetCache
	assembler  DocumentAssembler
	store      *ArtifactStore
	archiver   *Archiver
	events     repos.IssuanceEventRepo
	metrics    *observability.Metrics
	blockchain string
	now        func() time.Time
}

func NewCertificateIssuer(log *logger.Logger, deps IssuerDeps) (CertificateIssuer, error) {
	if deps.Register == nil {
		return nil, fmt.Errorf("serial register is required")
	}
	if deps.Assets == nil {
		return nil, fmt.Errorf("asset cache is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if deps.Assembler == nil {
		deps.Assembler = NewAssembler(log)
	}
	if strings.TrimSpace(deps.Blockchain) == "" {
		deps.Blockchain = certificate.DefaultBlockchain
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &certificateIssuer{
		log:        log.With("service", "CertificateIssuer"),
		register:   deps.Register,
		assets:     deps.Assets,
		assembler:  deps.Assembler,
		store:      deps.Store,
		archiver:   deps.Archiver,
		events:     deps.Events,
		metrics:    deps.Metrics,
		blockchain: deps.Blockchain,
		now:        deps.Now,
	}, nil
}

func (s *certificateIssuer) Issue(ctx context.Context, req certificate.Request) (out *certificate.Issued, err error) {
	started := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "certificate.issue")
	defer func() {
		result := "issued"
		if err != nil {
			result = certificate.KindCode(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		s.metrics.ObserveIssuance(result, time.Since(started))
		span.End()
	}()

	req = req.Normalize()
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	req.Blockchain = s.blockchain
	issueDate := s.now()
	span.SetAttributes(attribute.String("certificate.issue_date", issueDate.Format(certificate.DateLayout)))

	// Everything that can be checked without a serial is checked before one
	// is consumed.
	assets, err := s.assets.ForRequest(ctx, req)
	if err != nil {
		return nil, certificate.NewError(certificate.ErrRender, "load certificate assets", err)
	}
	if err := s.assembler.Check(req, assets); err != nil {
		return nil, err
	}

	rec, err := s.register.ClaimNext(ctx, certificate.Claim{
		OwnerName: req.OwnerName,
		UserID:    req.UserID,
		IssueDate: issueDate,
	})
	if err != nil {
		s.log.Error("serial claim failed",
			"user_id", req.UserID,
			"error_kind", certificate.KindCode(err),
			"error", err,
		)
		return nil, err
	}
	serial := rec.Serial
	span.SetAttributes(attribute.String("certificate.serial", serial))

	doc, err := s.assembler.Render(req, serial, assets, issueDate)
	if err != nil {
		return nil, s.orphaned(ctx, req, serial, issueDate, asKind(err, certificate.ErrRender, "render certificate"))
	}

	fileName := certificate.FileName(req.OwnerName, serial, issueDate)
	path, err := s.store.Save(req.UserID, fileName, doc)
	if err != nil {
		return nil, s.orphaned(ctx, req, serial, issueDate, certificate.NewError(certificate.ErrPersistence, "persist certificate", err))
	}

	archiveURL := s.archiver.Archive(ctx, req.UserID, fileName, doc)
	s.record(ctx, &certificate.IssuanceEvent{
		Serial:       serial,
		UserID:       req.UserID,
		OwnerSurname: rec.OwnerSurname,
		Status:       certificate.IssuanceStatusIssued,
		OutputPath:   path,
		IssueDate:    issueDate.Format(certificate.DateLayout),
		Extras:       extrasJSON(req, archiveURL),
	})
	s.log.Info("certificate issued",
		"serial", serial,
		"user_id", req.UserID,
		"path", path,
		"archived", archiveURL != "",
	)

	return &certificate.Issued{
		Serial:    serial,
		Document:  doc,
		Path:      path,
		FileName:  fileName,
		IssueDate: issueDate,
	}, nil
}

// orphaned annotates a post-claim failure with the consumed serial and makes
// it visible to operators.
func (s *certificateIssuer) orphaned(ctx context.Context, req certificate.Request, serial string, issueDate time.Time, err *certificate.Error) error {
	err = err.WithSerial(serial)
	s.metrics.IncOrphanedSerial()
	s.log.Error("certificate issuance failed after serial claim",
		"serial", serial,
		"serial_orphaned", true,
		"user_id", req.UserID,
		"error_kind", certificate.KindCode(err),
		"error", err,
	)
	s.record(ctx, &certificate.IssuanceEvent{
		Serial:       serial,
		UserID:       req.UserID,
		OwnerSurname: certificate.Surname(req.OwnerName),
		Status:       certificate.IssuanceStatusOrphaned,
		ErrorKind:    certificate.KindCode(err),
		ErrorMessage: err.Error(),
		IssueDate:    issueDate.Format(certificate.DateLayout),
		Extras:       extrasJSON(req, ""),
	})
	return err
}

func (s *certificateIssuer) record(ctx context.Context, ev *certificate.IssuanceEvent) {
	if s.events == nil {
		return
	}
	// The audit write must not inherit a cancelled request context; an
	// orphaned serial is exactly when the record matters most.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.events.Create(dbctx.Context{Ctx: rctx}, []*certificate.IssuanceEvent{ev}); err != nil {
		s.log.Warn("issuance audit write failed", "serial", ev.Serial, "status", ev.Status, "error", err)
	}
}

func validateRequest(req certificate.Request) error {
	switch {
	case req.OwnerName == "":
		return certificate.NewError(certificate.ErrValidation, "validate request", errors.New("ownerName is required"))
	case req.UserID == "":
		return certificate.NewError(certificate.ErrValidation, "validate request", errors.New("userId is required"))
	case strings.ContainsAny(req.UserID, "/\\\x00") || strings.Contains(req.UserID, ".."):
		return certificate.NewError(certificate.ErrValidation, "validate request", errors.New("userId contains path characters"))
	case strings.ContainsAny(req.OwnerName, "/\\\x00"):
		// The owner name becomes part of the output file name.
		return certificate.NewError(certificate.ErrValidation, "validate request", errors.New("ownerName contains path characters"))
	}
	return nil
}

func asKind(err error, kind error, op string) *certificate.Error {
	var ce *certificate.Error
	if errors.As(err, &ce) && errors.Is(ce, kind) {
		return ce
	}
	return certificate.NewError(kind, op, err)
}

func extrasJSON(req certificate.Request, archiveURL string) datatypes.JSON {
	payload := map[string]interface{}{
		"promethean_name": req.PrometheanName,
		"edition":         req.Edition,
		"nft_id":          req.NFTID,
		"blockchain":      req.Blockchain,
	}
	if req.QRLink != "" {
		payload["qr_link"] = req.QRLink
	}
	if len(req.Extras) > 0 {
		payload["extras"] = req.Extras
	}
	if archiveURL != "" {
		payload["archive_url"] = archiveURL
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}
