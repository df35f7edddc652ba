package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Span is a minimal in-process span used for correlating events and log
// lines produced by the runtime. It is not a replacement for a full
// tracing backend; when the caller already runs under an OpenTelemetry
// span the IDs of that span win (see ExtractIDs).
type Span interface {
	End()
	SetAttribute(key string, value any)
	Context() SpanContext
}

// SpanContext carries the identifiers of a span.
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Start        time.Time
	EndTime      time.Time
}

// Tracer starts spans. The zero-config tracer is cheap enough to leave
// enabled; a noop tracer is available for callers that want none.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

type spanKey struct{}

// New returns a tracer generating random trace/span IDs.
func New() Tracer { return simpleTracer{} }

// NewNoop returns a tracer that records nothing.
func NewNoop() Tracer { return noopTracer{} }

type noopTracer struct{}
type noopSpan struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopSpan) End()                     {}
func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) Context() SpanContext     { return SpanContext{} }

type simpleTracer struct{}

func (simpleTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	parent := spanFromContext(ctx)
	traceID := ""
	parentID := ""
	if parent != nil {
		traceID = parent.ctx.TraceID
		parentID = parent.ctx.SpanID
	}
	if traceID == "" {
		traceID = newID(16)
	}
	sp := &simpleSpan{
		name:  name,
		ctx:   SpanContext{TraceID: traceID, SpanID: newID(8), ParentSpanID: parentID, Start: time.Now()},
		attrs: make(map[string]any),
	}
	return context.WithValue(ctx, spanKey{}, sp), sp
}

type simpleSpan struct {
	name  string
	mu    sync.Mutex
	ctx   SpanContext
	ended bool
	attrs map[string]any
}

func (s *simpleSpan) End() {
	s.mu.Lock()
	if !s.ended {
		s.ctx.EndTime = time.Now()
		s.ended = true
	}
	s.mu.Unlock()
}

func (s *simpleSpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

func (s *simpleSpan) Context() SpanContext { return s.ctx }

func spanFromContext(ctx context.Context) *simpleSpan {
	if ctx == nil {
		return nil
	}
	sp, _ := ctx.Value(spanKey{}).(*simpleSpan)
	return sp
}

// ExtractIDs returns the trace and span IDs active on ctx. An
// OpenTelemetry span context takes precedence over the internal tracer
// so embedders running real tracing get their own IDs propagated.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	if ctx == nil {
		return "", ""
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String(), sc.SpanID().String()
	}
	if sp := spanFromContext(ctx); sp != nil {
		return sp.ctx.TraceID, sp.ctx.SpanID
	}
	return "", ""
}

func newID(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
