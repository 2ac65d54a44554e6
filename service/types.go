package service

import (
	"context"
	"errors"
	"image"
)

var (
	ErrUnknownCrop  = errors.New("unknown crop")
	ErrEmptyMessage = errors.New("empty message")
	ErrRejected     = errors.New("image does not match the selected crop")
)

// Predictor returns one score per label for an image.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) ([]float32, error)
}

// Advisor produces advice text from the remote chat model.
type Advisor interface {
	Advice(ctx context.Context, disease, crop string) (string, error)
	FollowUp(ctx context.Context, prompt string) (string, error)
}

type AnalyzeRequest struct {
	Image image.Image
	Crop  string
	// Preview is kept with the outcome for display.
	Preview string
	// SkipAdvice suppresses the advice call for accepted diagnoses.
	SkipAdvice bool
}
