package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/krau/agridoctor/advice"
	"github.com/krau/agridoctor/classifier"
	"github.com/krau/agridoctor/diagnosis"
	"github.com/krau/agridoctor/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/krau/agridoctor/service"

// Doctor handles the two user actions: analysing a leaf and asking a follow-up.
type Doctor struct {
	predictor Predictor
	advisor   Advisor
	labels    []string
	threshold float32
	now       func() time.Time

	tracer    trace.Tracer
	analyses  metric.Int64Counter
	rejected  metric.Int64Counter
	failures  metric.Int64Counter
	questions metric.Int64Counter
}

// New wires a Doctor. A nil predictor means the model failed to load and
// every analysis is refused.
func New(predictor Predictor, advisor Advisor, labels []string, threshold float32) *Doctor {
	if len(labels) == 0 {
		labels = diagnosis.DefaultLabels
	}
	meter := otel.Meter(instrumentationName)
	d := &Doctor{
		predictor: predictor,
		advisor:   advisor,
		labels:    labels,
		threshold: threshold,
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
	}
	d.analyses = counter(meter, "agridoctor.analyses", "Leaf analyses by outcome")
	d.rejected = counter(meter, "agridoctor.rejections", "Analyses rejected for low confidence")
	d.failures = counter(meter, "agridoctor.llm.failures", "Failed chat completion calls")
	d.questions = counter(meter, "agridoctor.followups", "Follow-up questions asked")
	return d
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		slog.Warn("Failed to create counter", slog.String("name", name), slog.String("error", err.Error()))
	}
	return c
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (d *Doctor) Labels() []string {
	return d.labels
}

func (d *Doctor) Threshold() float32 {
	return d.threshold
}

func (d *Doctor) ModelLoaded() bool {
	if d.predictor == nil {
		return false
	}
	if c, ok := d.predictor.(*classifier.Classifier); ok && c == nil {
		return false
	}
	return true
}

// Analyze classifies req.Image for req.Crop and, when the diagnosis is
// confident enough, asks for advice. The outcome is stored as sess.Last and
// returned even when err is non-nil.
func (d *Doctor) Analyze(ctx context.Context, sess *session.Session, req AnalyzeRequest) (*session.Outcome, error) {
	sess.Lock()
	defer sess.Unlock()

	ctx, span := d.tracer.Start(ctx, "doctor.analyze")
	defer span.End()

	out := &session.Outcome{Crop: req.Crop, Preview: req.Preview}
	sess.Last = out

	crop, ok := diagnosis.NormalizeCrop(req.Crop)
	if !ok {
		out.Error = fmt.Sprintf("Unknown crop %q.", req.Crop)
		return out, fmt.Errorf("%w: %s", ErrUnknownCrop, req.Crop)
	}
	out.Crop = crop
	span.SetAttributes(attribute.String("crop", crop))

	if !d.ModelLoaded() {
		out.Error = "Model not loaded."
		add(ctx, d.analyses, attribute.String("result", "unavailable"))
		return out, classifier.ErrModelUnavailable
	}

	scores, err := d.predictor.Predict(ctx, req.Image)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prediction failed")
		add(ctx, d.analyses, attribute.String("result", "error"))
		if errors.Is(err, classifier.ErrModelUnavailable) {
			out.Error = "Model not loaded."
		} else {
			out.Error = "Prediction failed."
		}
		return out, fmt.Errorf("prediction failed: %w", err)
	}

	res := diagnosis.Filter(scores, crop, d.labels)
	out.Label = res.Label
	out.Confidence = res.Confidence
	out.Accepted = res.Accepted(d.threshold)
	out.Candidates = res.Top(3)
	span.SetAttributes(attribute.String("label", res.Label), attribute.Float64("confidence", float64(res.Confidence)))

	slog.Info("Leaf analysed",
		slog.String("session", sess.ID),
		slog.String("crop", crop),
		slog.String("label", res.Label),
		slog.Float64("confidence", float64(res.Confidence)),
		slog.Bool("accepted", out.Accepted))

	if !out.Accepted {
		out.Label = ""
		out.Rejected = true
		out.Error = fmt.Sprintf("Unsure. This doesn't look like %s. Try selecting a different crop.", crop)
		add(ctx, d.analyses, attribute.String("result", "rejected"))
		add(ctx, d.rejected, attribute.String("crop", crop))
		return out, ErrRejected
	}
	add(ctx, d.analyses, attribute.String("result", "accepted"))

	sess.SetDiagnosis(res.Label, crop)
	if req.SkipAdvice || d.advisor == nil {
		return out, nil
	}

	text, err := d.advisor.Advice(ctx, res.Label, crop)
	if err != nil {
		span.RecordError(err)
		add(ctx, d.failures, attribute.String("call", "advice"))
		text = "AI Error: " + err.Error()
	}
	out.Advice = text
	sess.Append(advice.RoleAssistant, text, d.now())
	return out, nil
}

// FollowUpContext builds the prompt for a follow-up question, prefixed with
// the session's last diagnosis when there is one.
func FollowUpContext(sess *session.Session, question string) string {
	if sess.HasDiagnosis() {
		return fmt.Sprintf("Context: User has %s with %s. Answer: %s", sess.Crop, sess.Diagnosis, question)
	}
	return "Answer this farming question: " + question
}

// Ask records question and the reply in the session history. Each call adds
// exactly two messages; when the remote call fails the reply is the error
// text and err is returned alongside it.
func (d *Doctor) Ask(ctx context.Context, sess *session.Session, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyMessage
	}

	sess.Lock()
	defer sess.Unlock()

	ctx, span := d.tracer.Start(ctx, "doctor.ask")
	defer span.End()
	span.SetAttributes(attribute.Bool("has_diagnosis", sess.HasDiagnosis()))
	add(ctx, d.questions)

	sess.Append(advice.RoleUser, question, d.now())

	var (
		reply string
		err   error
	)
	if d.advisor == nil {
		err = errors.New("advice client not configured")
	} else {
		reply, err = d.advisor.FollowUp(ctx, FollowUpContext(sess, question))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "follow-up failed")
		add(ctx, d.failures, attribute.String("call", "followup"))
		reply = "Error: " + err.Error()
	}
	sess.Append(advice.RoleAssistant, reply, d.now())
	return reply, err
}
