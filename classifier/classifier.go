package classifier

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// Classifier runs the leaf model. Sessions are pooled so concurrent requests
// never share tensors.
type Classifier struct {
	pool       chan *Model
	models     []*Model
	labels     []string
	size       int
	layout     Layout
	scale      float32
	activation string
}

// Load opens the model once per session slot. It fails when the file is
// missing or its output does not match the label table.
func Load(opts Options) (*Classifier, error) {
	if len(opts.Labels) == 0 {
		return nil, fmt.Errorf("empty label table")
	}
	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no inputs or outputs", opts.ModelPath)
	}

	layout, size := inputGeometry(inputs[0].Dimensions, opts.ImageSize)
	if outDims := outputs[0].Dimensions; len(outDims) > 0 {
		if n := outDims[len(outDims)-1]; n > 0 && int(n) != len(opts.Labels) {
			return nil, fmt.Errorf("model outputs %d classes but %d labels are configured", n, len(opts.Labels))
		}
	}

	poolSize := max(opts.PoolSize, 1)
	c := &Classifier{
		pool:       make(chan *Model, poolSize),
		labels:     opts.Labels,
		size:       size,
		layout:     layout,
		scale:      opts.PixelScale,
		activation: strings.ToLower(opts.Activation),
	}
	if c.scale <= 0 {
		c.scale = 255
	}

	for i := 0; i < poolSize; i++ {
		m, err := newModel(opts.ModelPath, inputs[0].Name, outputs[0].Name, layout, size, len(opts.Labels))
		if err != nil {
			c.Close()
			return nil, err
		}
		c.models = append(c.models, m)
		c.pool <- m
	}

	slog.Info("Model loaded",
		slog.String("path", opts.ModelPath),
		slog.String("layout", layout.String()),
		slog.Int("image_size", size),
		slog.Int("classes", len(opts.Labels)),
		slog.Int("pool", poolSize))
	return c, nil
}

func newModel(path, inputName, outputName string, layout Layout, size, classes int) (*Model, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	shape := ort.NewShape(1, int64(size), int64(size), 3)
	if layout == NCHW {
		shape = ort.NewShape(1, 3, int64(size), int64(size))
	}
	m := &Model{inputName: inputName, outputName: outputName}
	m.input, err = ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	m.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(classes)))
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	m.session, err = ort.NewAdvancedSession(
		path,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{m.input},
		[]ort.Value{m.output},
		opts,
	)
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return m, nil
}

func (c *Classifier) Labels() []string {
	return c.labels
}

// Predict returns one probability per label for img.
func (c *Classifier) Predict(ctx context.Context, img image.Image) ([]float32, error) {
	if c == nil || c.pool == nil {
		return nil, ErrModelUnavailable
	}
	inputData := Preprocess(img, c.size, c.layout, c.scale)

	var m *Model
	select {
	case m = <-c.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { c.pool <- m }()

	copy(m.input.GetData(), inputData)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	raw := m.output.GetData()
	scores := make([]float32, len(raw))
	copy(scores, raw)
	if c.activation == "softmax" {
		scores = Softmax(scores)
	}
	return scores, nil
}

func (c *Classifier) Close() {
	for _, m := range c.models {
		m.destroy()
	}
	c.models = nil
}
