package classifier

import (
	"errors"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrModelUnavailable = errors.New("model not loaded")

type Layout int

const (
	NHWC Layout = iota
	NCHW
)

func (l Layout) String() string {
	if l == NCHW {
		return "nchw"
	}
	return "nhwc"
}

type Options struct {
	ModelPath string
	Labels    []string
	// ImageSize is used when the model input has dynamic spatial dimensions.
	ImageSize  int
	PixelScale float32
	Activation string
	PoolSize   int
}

type Model struct {
	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	output     *ort.Tensor[float32]
	inputName  string
	outputName string
}

func (m *Model) destroy() {
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
}
