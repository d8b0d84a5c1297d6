// Package telemetry traces ingestion runs, searches and ingestion jobs with
// Sentry. Every helper is safe to call when Sentry was never initialized.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/getsentry/sentry-go"
)

const (
	serverName   = "agentkb"
	healthTxName = "GET /health"
	flushTimeout = 5 * time.Second
)

type Config struct {
	DSN         string
	Environment string
	Release     string
	// TracesSampleRate defaults to SampleRate(Environment).
	TracesSampleRate float64
	Debug            bool
}

// SampleRate is the default trace sample rate for an environment.
func SampleRate(environment string) float64 {
	if environment == "production" {
		return 0.1
	}
	return 1.0
}

// Init starts the Sentry client and returns a function that flushes pending
// events. Without a DSN it does nothing.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 {
		cfg.TracesSampleRate = SampleRate(cfg.Environment)
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           cfg.DSN,
		Environment:   cfg.Environment,
		Release:       cfg.Release,
		ServerName:    serverName,
		Debug:         cfg.Debug,
		EnableTracing: true,
		TracesSampler: tracesSampler(cfg.TracesSampleRate),
	})
	if err != nil {
		return func() {}, fmt.Errorf("init sentry: %w", err)
	}

	slog.Info("sentry tracing enabled", "environment", cfg.Environment, "sample_rate", cfg.TracesSampleRate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// tracesSampler drops health checks and keeps child spans with their parent.
func tracesSampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		span := ctx.Span
		if span == nil {
			return rate
		}
		if span.Name == healthTxName {
			return 0
		}
		if span.ParentSpanID != (sentry.SpanID{}) {
			if span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes tag a span with the tenant and item it works on.
type SpanAttributes struct {
	AgentID     string
	CompanyID   string
	KnowledgeID string
	JobID       string
	Operation   string
}

type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError marks the span failed, tags it with the error code when err is a
// domain error and reports err to the span's hub.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	var de *domain.DomainError
	if errors.As(err, &de) {
		s.inner.SetTag("error_code", de.Code)
	}
	if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
		hub.CaptureException(err)
	}
}

// RecordIngestion attaches an ingestion run's counters to the span.
func (s *Span) RecordIngestion(r *domain.IngestionResult) {
	if s.inner == nil || r == nil {
		return
	}
	s.inner.SetData("items", r.TotalItems)
	s.inner.SetData("chunks", r.TotalChunks)
	s.inner.SetData("vectors", r.TotalVectors)
	s.inner.SetData("item_errors", len(r.Errors))
}

// RecordSearch attaches the serving strategy and result count to the span.
func (s *Span) RecordSearch(strategy string, results int) {
	if s.inner == nil {
		return
	}
	s.inner.SetTag("strategy", strategy)
	s.inner.SetData("results", results)
}

// StartSpan starts a child of the span in ctx, or a new transaction when ctx
// carries none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}
	tag(span, attrs)
	return span.Context(), &Span{inner: span}
}

// StartJob starts the root transaction of one ingestion job run.
func StartJob(ctx context.Context, jobID, knowledgeID string) (context.Context, *Span) {
	span := sentry.StartSpan(ctx, "job.ingest",
		sentry.WithTransactionName("ingestion job"),
		sentry.WithTransactionSource(sentry.SourceTask))
	tag(span, SpanAttributes{JobID: jobID, KnowledgeID: knowledgeID, Operation: "process"})
	return span.Context(), &Span{inner: span}
}

func tag(span *sentry.Span, attrs SpanAttributes) {
	for key, value := range map[string]string{
		"agent_id":     attrs.AgentID,
		"company_id":   attrs.CompanyID,
		"knowledge_id": attrs.KnowledgeID,
		"job_id":       attrs.JobID,
	} {
		if value != "" {
			span.SetTag(key, value)
		}
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}
}

// CaptureError reports err on the hub in ctx, or the global hub.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// RecordDegradation leaves a breadcrumb when a search strategy fails and the
// store falls back to the next one.
func RecordDegradation(ctx context.Context, strategy string, err error) {
	crumb := &sentry.Breadcrumb{
		Type:      "default",
		Category:  "search",
		Message:   strategy + " strategy failed",
		Data:      map[string]interface{}{"strategy": strategy, "error": err.Error()},
		Level:     sentry.LevelWarning,
		Timestamp: time.Now(),
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(crumb, nil)
		return
	}
	sentry.AddBreadcrumb(crumb)
}
