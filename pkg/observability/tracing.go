package observability

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// Tracer wraps X-Ray segments around the stages of a generation run.
// A disabled tracer passes calls straight through so local runs work
// without an X-Ray daemon.
type Tracer struct {
	serviceName string
	enabled     bool
}

// NewTracer creates a new tracer instance
func NewTracer(serviceName string, enabled bool) *Tracer {
	return &Tracer{
		serviceName: serviceName,
		enabled:     enabled,
	}
}

// StartSegment starts a root segment for non-Lambda entrypoints
func (t *Tracer) StartSegment(ctx context.Context, name string) (context.Context, *xray.Segment) {
	if !t.enabled {
		return ctx, nil
	}
	return xray.BeginSegment(ctx, fmt.Sprintf("%s.%s", t.serviceName, name))
}

// CloseSegment closes a segment produced by StartSegment
func (t *Tracer) CloseSegment(seg *xray.Segment, err error) {
	if seg != nil {
		seg.Close(err)
	}
}

// TraceStage runs one pipeline stage inside a subsegment, recording
// its error on the trace
func (t *Tracer) TraceStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	if !t.enabled {
		return fn(ctx)
	}

	ctx, seg := xray.BeginSubsegment(ctx, stage)
	defer seg.Close(nil)

	err := fn(ctx)
	if err != nil {
		seg.AddError(err)
	}
	return err
}

// AnnotateRun marks the current segment with the run's identity so
// traces are searchable by topic and session
func (t *Tracer) AnnotateRun(ctx context.Context, topic, sessionID string) {
	if !t.enabled {
		return
	}
	if seg := xray.GetSegment(ctx); seg != nil {
		seg.AddAnnotation("topic", topic)
		seg.AddAnnotation("session_id", sessionID)
	}
}

// RecordError records an error in the current segment
func (t *Tracer) RecordError(ctx context.Context, err error) {
	if !t.enabled {
		return
	}
	if seg := xray.GetSegment(ctx); seg != nil {
		seg.AddError(err)
	}
}
