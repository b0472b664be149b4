package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/id"
)

const spanBuffer = 1024

// Span is a single traced operation.
type Span struct {
	TraceID   id.TraceID
	SpanID    id.SpanID
	ParentID  id.SpanID
	Name      string
	Service   string
	StartTime time.Time
	Duration  time.Duration
	Tags      map[string]string
	Err       error
}

// SetTag adds a tag to the span.
func (s *Span) SetTag(key, value string) {
	if s == nil {
		return
	}
	s.Tags[key] = value
}

// SetError records the error the operation ended with.
func (s *Span) SetError(err error) {
	if s == nil {
		return
	}
	s.Err = err
}

// Tracer creates spans and collects finished ones. A nil Tracer is valid and
// records nothing.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New creates a tracer and starts its collector.
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace"),
		spans:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan creates a span that is a child of the span carried by ctx, or
// the root of a new trace.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	if t == nil {
		return nil, ctx
	}
	traceID, parentID := FromContext(ctx)
	if traceID == "" {
		traceID = id.NewTraceID()
	}
	span := &Span{
		TraceID:   traceID,
		SpanID:    id.NewSpanID(),
		ParentID:  parentID,
		Name:      name,
		Service:   t.service,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}
	return span, WithSpan(ctx, span.TraceID, span.SpanID)
}

// Finish stamps the span duration and submits it.
func (t *Tracer) Finish(span *Span) {
	if t == nil || span == nil {
		return
	}
	span.Duration = time.Since(span.StartTime)
	select {
	case <-t.done:
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", span.TraceID.String()),
			zap.String("operation", span.Name),
		)
	}
}

// Close stops the collector after draining buffered spans.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.done) })
	<-t.stopped
}

func (t *Tracer) collect() {
	defer close(t.stopped)
	for {
		select {
		case span := <-t.spans:
			t.log(span)
		case <-t.done:
			for {
				select {
				case span := <-t.spans:
					t.log(span)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracer) log(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", span.TraceID.String()),
		zap.String("span_id", span.SpanID.String()),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID.String()))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}
	if span.Err != nil {
		fields = append(fields, zap.Error(span.Err))
	}
	t.logger.Debug("span completed", fields...)
}

type contextKey int

const (
	traceIDKey contextKey = iota
	spanIDKey
)

// WithSpan returns ctx carrying the given trace and span ids.
func WithSpan(ctx context.Context, traceID id.TraceID, spanID id.SpanID) context.Context {
	if traceID == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	return context.WithValue(ctx, spanIDKey, spanID)
}

// FromContext returns the trace and span ids carried by ctx.
func FromContext(ctx context.Context) (id.TraceID, id.SpanID) {
	traceID, _ := ctx.Value(traceIDKey).(id.TraceID)
	spanID, _ := ctx.Value(spanIDKey).(id.SpanID)
	return traceID, spanID
}

// Format renders trace ids for log lines.
func Format(traceID id.TraceID, spanID id.SpanID) string {
	return fmt.Sprintf("[trace:%s span:%s]", traceID, spanID)
}
