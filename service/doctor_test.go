package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/krau/agridoctor/classifier"
	"github.com/krau/agridoctor/diagnosis"
	"github.com/krau/agridoctor/session"
)

type fakePredictor struct {
	scores []float32
	err    error
	calls  int
}

func (f *fakePredictor) Predict(ctx context.Context, img image.Image) ([]float32, error) {
	f.calls++
	return f.scores, f.err
}

type adviceCall struct {
	disease, crop string
}

type fakeAdvisor struct {
	adviceCalls []adviceCall
	prompts     []string
	err         error
}

func (f *fakeAdvisor) Advice(ctx context.Context, disease, crop string) (string, error) {
	f.adviceCalls = append(f.adviceCalls, adviceCall{disease, crop})
	if f.err != nil {
		return "", f.err
	}
	return "advice for " + disease, nil
}

func (f *fakeAdvisor) FollowUp(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("reply %d", len(f.prompts)), nil
}

func scoresFor(t *testing.T, values map[string]float32) []float32 {
	t.Helper()
	scores := make([]float32, len(diagnosis.DefaultLabels))
	for label, v := range values {
		found := false
		for i, l := range diagnosis.DefaultLabels {
			if l == label {
				scores[i] = v
				found = true
			}
		}
		if !found {
			t.Fatalf("unknown label %q", label)
		}
	}
	return scores
}

func newSession() *session.Session {
	s, _ := session.NewStore(0).Get("")
	return s
}

func leaf() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 4, 4))
}

func TestAnalyzeAcceptedRequestsAdvice(t *testing.T) {
	pred := &fakePredictor{scores: scoresFor(t, map[string]float32{"Tomato_healthy": 0.85})}
	adv := &fakeAdvisor{}
	d := New(pred, adv, nil, diagnosis.DefaultThreshold)
	sess := newSession()

	out, err := d.Analyze(context.Background(), sess, AnalyzeRequest{Image: leaf(), Crop: "tomato"})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if !out.Accepted || out.Label != "Tomato_healthy" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Confidence < 84.99 || out.Confidence > 85.01 {
		t.Fatalf("confidence = %v, want 85", out.Confidence)
	}
	if len(adv.adviceCalls) != 1 || adv.adviceCalls[0] != (adviceCall{"Tomato_healthy", "Tomato"}) {
		t.Fatalf("unexpected advice calls: %+v", adv.adviceCalls)
	}
	if sess.Diagnosis != "Tomato_healthy" || sess.Crop != "Tomato" {
		t.Fatalf("diagnosis not recorded: %q %q", sess.Diagnosis, sess.Crop)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Role != "assistant" || sess.Messages[0].Content != "advice for Tomato_healthy" {
		t.Fatalf("advice not appended to history: %+v", sess.Messages)
	}
	if sess.Last != out {
		t.Fatal("outcome not stored on session")
	}
}

func TestAnalyzeRejectedSkipsAdvice(t *testing.T) {
	pred := &fakePredictor{scores: scoresFor(t, map[string]float32{
		"Grape___Black_rot": 0.7,
		"Sugarcane_Mosaic":  0.3,
	})}
	adv := &fakeAdvisor{}
	d := New(pred, adv, nil, diagnosis.DefaultThreshold)
	sess := newSession()

	out, err := d.Analyze(context.Background(), sess, AnalyzeRequest{Image: leaf(), Crop: "Rice"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if out.Accepted || out.Confidence != 0 || out.Label != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if !strings.Contains(out.Error, "doesn't look like Rice") {
		t.Fatalf("unexpected error text: %q", out.Error)
	}
	if len(adv.adviceCalls) != 0 {
		t.Fatal("advice must not be requested for rejected analyses")
	}
	if sess.HasDiagnosis() || len(sess.Messages) != 0 {
		t.Fatal("rejected analysis must not change diagnosis or history")
	}
}

func TestAnalyzeRejectedKeepsPreviousDiagnosis(t *testing.T) {
	pred := &fakePredictor{scores: scoresFor(t, map[string]float32{"Rice_Brown_spot": 0.9})}
	d := New(pred, &fakeAdvisor{}, nil, diagnosis.DefaultThreshold)
	sess := newSession()

	if _, err := d.Analyze(context.Background(), sess, AnalyzeRequest{Image: leaf(), Crop: "Rice"}); err != nil {
		t.Fatalf("first analysis: %v", err)
	}
	pred.scores = scoresFor(t, map[string]float32{"Rice_Brown_spot": 0.05})
	if _, err := d.Analyze(context.Background(), sess, AnalyzeRequest{Image: leaf(), Crop: "Rice"}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if sess.Diagnosis != "Rice_Brown_spot" {
		t.Fatalf("diagnosis = %q, want previous one kept", sess.Diagnosis)
	}
}

func TestAnalyzeWithoutModel(t *testing.T) {
	adv := &fakeAdvisor{}
	var missing *classifier.Classifier
	for _, pred := range []Predictor{nil, missing} {
		d := New(pred, adv, nil, diagnosis.DefaultThreshold)
		out, err := d.Analyze(context.Background(), newSession(), AnalyzeRequest{Image: leaf(), Crop: "Grape"})
		if !errors.Is(err, classifier.ErrModelUnavailable) {
			t.Fatalf("expected ErrModelUnavailable, got %v", err)
		}
		if out.Error != "Model not loaded." {
			t.Fatalf("unexpected error text: %q", out.Error)
		}
	}
	if len(adv.adviceCalls) != 0 {
		t.Fatal("advice must not be requested without a model")
	}
}

func TestAnalyzeUnknownCrop(t *testing.T) {
	pred := &fakePredictor{}
	d := New(pred, &fakeAdvisor{}, nil, diagnosis.DefaultThreshold)

	_, err := d.Analyze(context.Background(), newSession(), AnalyzeRequest{Image: leaf(), Crop: "Wheat"})
	if !errors.Is(err, ErrUnknownCrop) {
		t.Fatalf("expected ErrUnknownCrop, got %v", err)
	}
	if pred.calls != 0 {
		t.Fatal("predictor must not run for an unknown crop")
	}
}

func TestAnalyzePredictionError(t *testing.T) {
	pred := &fakePredictor{err: errors.New("boom")}
	d := New(pred, &fakeAdvisor{}, nil, diagnosis.DefaultThreshold)

	out, err := d.Analyze(context.Background(), newSession(), AnalyzeRequest{Image: leaf(), Crop: "Grape"})
	if err == nil || out.Error != "Prediction failed." {
		t.Fatalf("unexpected result: %v %+v", err, out)
	}
}

func TestAnalyzeAdviceFailureRenderedInline(t *testing.T) {
	pred := &fakePredictor{scores: scoresFor(t, map[string]float32{"Sugarcane_Rust": 0.6})}
	adv := &fakeAdvisor{err: errors.New("rate limited")}
	d := New(pred, adv, nil, diagnosis.DefaultThreshold)
	sess := newSession()

	out, err := d.Analyze(context.Background(), sess, AnalyzeRequest{Image: leaf(), Crop: "Sugarcane"})
	if err != nil {
		t.Fatalf("advice failures must not fail the analysis: %v", err)
	}
	if out.Advice != "AI Error: rate limited" {
		t.Fatalf("advice = %q", out.Advice)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Content != "AI Error: rate limited" {
		t.Fatalf("unexpected history: %+v", sess.Messages)
	}
}

func TestAnalyzeSkipAdvice(t *testing.T) {
	pred := &fakePredictor{scores: scoresFor(t, map[string]float32{"Grape___healthy": 0.9})}
	adv := &fakeAdvisor{}
	d := New(pred, adv, nil, diagnosis.DefaultThreshold)
	sess := newSession()

	out, err := d.Analyze(context.Background(), sess, AnalyzeRequest{Image: leaf(), Crop: "Grape", SkipAdvice: true})
	if err != nil || !out.Accepted {
		t.Fatalf("unexpected result: %v %+v", err, out)
	}
	if len(adv.adviceCalls) != 0 || len(sess.Messages) != 0 {
		t.Fatal("advice must be skipped")
	}
}

func TestAskHistoryGrowsByTwoPerTurn(t *testing.T) {
	adv := &fakeAdvisor{}
	d := New(nil, adv, nil, diagnosis.DefaultThreshold)
	sess := newSession()

	const turns = 4
	for i := 1; i <= turns; i++ {
		reply, err := d.Ask(context.Background(), sess, fmt.Sprintf("question %d", i))
		if err != nil {
			t.Fatalf("Ask returned error: %v", err)
		}
		if reply != fmt.Sprintf("reply %d", i) {
			t.Fatalf("reply = %q", reply)
		}
	}
	if len(sess.Messages) != 2*turns {
		t.Fatalf("history length = %d, want %d", len(sess.Messages), 2*turns)
	}
	for i := 0; i < turns; i++ {
		user, assistant := sess.Messages[2*i], sess.Messages[2*i+1]
		if user.Role != "user" || user.Content != fmt.Sprintf("question %d", i+1) {
			t.Fatalf("message %d = %+v", 2*i, user)
		}
		if assistant.Role != "assistant" || assistant.Content != fmt.Sprintf("reply %d", i+1) {
			t.Fatalf("message %d = %+v", 2*i+1, assistant)
		}
	}
}

func TestAskContextBeforeAndAfterDiagnosis(t *testing.T) {
	pred := &fakePredictor{scores: scoresFor(t, map[string]float32{"Tomato_Late_blight": 0.7})}
	adv := &fakeAdvisor{}
	d := New(pred, adv, nil, diagnosis.DefaultThreshold)
	sess := newSession()

	if _, err := d.Ask(context.Background(), sess, "Is this organic?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	before := adv.prompts[0]
	if before != "Answer this farming question: Is this organic?" {
		t.Fatalf("prompt before diagnosis = %q", before)
	}
	if strings.Contains(before, "Tomato") || strings.Contains(before, "Context") {
		t.Fatalf("prompt before diagnosis leaks context: %q", before)
	}

	if _, err := d.Analyze(context.Background(), sess, AnalyzeRequest{Image: leaf(), Crop: "Tomato"}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := d.Ask(context.Background(), sess, "How fast does it spread?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	after := adv.prompts[1]
	want := "Context: User has Tomato with Tomato_Late_blight. Answer: How fast does it spread?"
	if after != want {
		t.Fatalf("prompt after diagnosis = %q, want %q", after, want)
	}
}

func TestAskFailureStillRecordsTurn(t *testing.T) {
	adv := &fakeAdvisor{err: errors.New("timeout")}
	d := New(nil, adv, nil, diagnosis.DefaultThreshold)
	sess := newSession()

	reply, err := d.Ask(context.Background(), sess, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if reply != "Error: timeout" {
		t.Fatalf("reply = %q", reply)
	}
	if len(sess.Messages) != 2 || sess.Messages[1].Content != "Error: timeout" {
		t.Fatalf("unexpected history: %+v", sess.Messages)
	}
}

func TestAskEmptyMessage(t *testing.T) {
	d := New(nil, &fakeAdvisor{}, nil, diagnosis.DefaultThreshold)
	sess := newSession()
	if _, err := d.Ask(context.Background(), sess, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Fatal("empty messages must not be recorded")
	}
}
