package register

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/observability"
)

type instrumentedTable struct {
	inner   Table
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Instrument wraps t with claim metrics and tracing spans.
func Instrument(t Table, metrics *observability.Metrics) Table {
	if t == nil {
		return nil
	}
	return &instrumentedTable{inner: t, metrics: metrics, tracer: observability.Tracer()}
}

func (s *instrumentedTable) Backend() string { return s.inner.Backend() }

func (s *instrumentedTable) ClaimNext(ctx context.Context, claim certificate.Claim) (certificate.SerialRecord, error) {
	ctx, span := s.tracer.Start(ctx, "register.claim_next",
		trace.WithAttributes(attribute.String("register.backend", s.inner.Backend())))
	defer span.End()

	rec, err := s.inner.ClaimNext(ctx, claim)
	result := "claimed"
	if err != nil {
		result = certificate.KindCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	} else {
		span.SetAttributes(attribute.String("register.serial", rec.Serial))
	}
	s.metrics.ObserveClaim(s.inner.Backend(), result)
	return rec, err
}

func (s *instrumentedTable) Records(ctx context.Context) ([]certificate.SerialRecord, error) {
	return s.inner.Records(ctx)
}

func (s *instrumentedTable) Stats(ctx context.Context) (certificate.RegisterStats, error) {
	st, err := s.inner.Stats(ctx)
	if err == nil {
		s.metrics.SetRegisterAvailable(s.inner.Backend(), st.Available)
	}
	return st, err
}

// Seed forwards to the wrapped table when it supports seeding.
func (s *instrumentedTable) Seed(ctx context.Context, records []certificate.SerialRecord) (int, error) {
	seeder, ok := s.inner.(Seeder)
	if !ok {
		return 0, ErrSeedUnsupported
	}
	return seeder.Seed(ctx, records)
}
