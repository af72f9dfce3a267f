package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "taskboard-api/api"
	requestEventName    = "taskboard.request"
	requestEventDomain  = "taskboard"
	observabilityEvent  = "observability.event"
	attrPrefix          = "taskboard.request."
	severityInfoNumber  = 9
	severityWarnNumber  = 13
	severityErrorNumber = 17
)

// requestMetrics collects timings and outcome of a single request and
// reports them once as a log entry and an OpenTelemetry span.
type requestMetrics struct {
	logger *log.Logger
	route  string
	span   trace.Span
	start  time.Time

	authDuration     time.Duration
	waitDuration     time.Duration
	dispatchDuration time.Duration
	encodeDuration   time.Duration

	phase      string
	received   int
	applied    int
	skipped    int
	errorStage string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, route, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		route:  route,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveWait(d time.Duration) {
	if d > 0 {
		m.waitDuration = d
	}
}

func (m *requestMetrics) ObserveDispatch(d time.Duration) {
	if d > 0 {
		m.dispatchDuration = d
	}
}

func (m *requestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *requestMetrics) SetPhase(phase string) { m.phase = phase }

func (m *requestMetrics) SetActions(received, applied, skipped int) {
	m.received = max(received, 0)
	m.applied = max(applied, 0)
	m.skipped = max(skipped, 0)
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the span and writes the observability event. It must be called
// exactly once per request.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"auth_ms", durationToMillis(m.authDuration)))
	}
	if m.waitDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"wait_ms", durationToMillis(m.waitDuration)))
	}
	if m.dispatchDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"dispatch_ms", durationToMillis(m.dispatchDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.phase != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"phase", m.phase))
	}
	if m.received > 0 {
		attrs = append(attrs,
			attribute.Int(attrPrefix+"actions_received", m.received),
			attribute.Int(attrPrefix+"actions_applied", m.applied),
			attribute.Int(attrPrefix+"actions_skipped", m.skipped),
		)
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= 500:
			m.span.SetStatus(codes.Error, "server error")
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributeMap(attrs),
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), observabilityEvent)
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", severityErrorNumber
	case status >= 400:
		return "WARN", severityWarnNumber
	default:
		return "INFO", severityInfoNumber
	}
}

func levelForSeverity(number int) log.Level {
	switch {
	case number >= severityErrorNumber:
		return log.ErrorLevel
	case number >= severityWarnNumber:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
