// internal/inference/inference.go
package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Options configures an ONNX Runtime session.
type Options struct {
	// SharedLibrary is the path to the onnxruntime shared library; empty uses the default
	SharedLibrary string
	// InputNames are the model inputs, in the order the session is created with
	InputNames []string
	// OutputNames are the model outputs
	OutputNames []string
	// OutputShapes holds one shape per output name, used to preallocate outputs
	OutputShapes [][]int64
	// InterOpThreads and IntraOpThreads are scheduling hints; zero keeps the runtime default
	InterOpThreads int
	IntraOpThreads int
}

// ONNX wraps an ONNX runtime session for serialized inference.
// It implements the Engine interface.
type ONNX struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	opts    Options
}

var envMu sync.Mutex

// initEnvironment initializes the process-wide ONNX runtime environment once.
func initEnvironment(sharedLibrary string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if sharedLibrary != "" {
		ort.SetSharedLibraryPath(sharedLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// NewONNX creates a session from serialized model bytes.
func NewONNX(model []byte, opts Options) (*ONNX, error) {
	if len(model) == 0 {
		return nil, fmt.Errorf("failed to create ONNX session: empty model")
	}
	if len(opts.OutputShapes) != len(opts.OutputNames) {
		return nil, fmt.Errorf("failed to create ONNX session: %d output names but %d output shapes",
			len(opts.OutputNames), len(opts.OutputShapes))
	}

	if err := initEnvironment(opts.SharedLibrary); err != nil {
		return nil, err
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	if opts.InterOpThreads > 0 {
		if err := sessionOpts.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
		}
	}
	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		model,
		opts.InputNames,
		opts.OutputNames,
		sessionOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNX{
		session: session,
		opts:    opts,
	}, nil
}

// Factory returns an inference Factory that builds ONNX engines with opts.
func (opts Options) Factory() Factory {
	return func(model []byte) (Engine, error) {
		return NewONNX(model, opts)
	}
}

// Forward runs one forward pass. Every configured input name must be present in inputs.
func (o *ONNX) Forward(inputs map[string]Tensor) ([]Tensor, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil {
		return nil, fmt.Errorf("inference session is nil")
	}

	inputTensors := make([]ort.ArbitraryTensor, 0, len(o.opts.InputNames))
	for _, name := range o.opts.InputNames {
		in, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
		if in.Len() != int64(len(in.Data)) {
			return nil, fmt.Errorf("input %q has wrong size: got %d, expected %d", name, len(in.Data), in.Len())
		}

		t, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor %q: %w", name, err)
		}
		defer t.Destroy()
		inputTensors = append(inputTensors, t)
	}

	outputTensors := make([]ort.ArbitraryTensor, 0, len(o.opts.OutputNames))
	outputs := make([]*ort.Tensor[float32], 0, len(o.opts.OutputNames))
	for i, name := range o.opts.OutputNames {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(o.opts.OutputShapes[i]...))
		if err != nil {
			return nil, fmt.Errorf("failed to create output tensor %q: %w", name, err)
		}
		defer t.Destroy()
		outputTensors = append(outputTensors, t)
		outputs = append(outputs, t)
	}

	if err := o.session.Run(inputTensors, outputTensors); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// Copy out of the runtime-owned buffers before they are destroyed.
	result := make([]Tensor, 0, len(outputs))
	for i, t := range outputs {
		data := make([]float32, len(t.GetData()))
		copy(data, t.GetData())
		result = append(result, Tensor{
			Shape: append([]int64(nil), o.opts.OutputShapes[i]...),
			Data:  data,
		})
	}

	return result, nil
}

// Close releases the ONNX session resources. The shared environment is left
// initialized so that another session can be created later.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		err := o.session.Destroy()
		o.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}

	return nil
}

// Shutdown tears down the process-wide ONNX runtime environment.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Ensure ONNX implements Engine at compile time
var _ Engine = (*ONNX)(nil)
