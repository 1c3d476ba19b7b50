// internal/inference/mock.go
package inference

import (
	"fmt"
)

// MockEngine is a mock implementation of Engine for testing.
// It returns deterministic outputs without requiring the ONNX shared library.
type MockEngine struct {
	// Outputs are returned from every Forward call; nil or empty means "no result"
	Outputs []Tensor
	// Transform, when set, computes the outputs from the inputs instead of Outputs
	Transform func(inputs map[string]Tensor) []Tensor
	// ShouldError if true, Forward will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Forward was called
	CallCount int
	// LastInputs holds the inputs of the most recent Forward call
	LastInputs map[string]Tensor
	// Closed reports whether Close was called
	Closed bool
}

// NewMock creates a MockEngine that returns a single zero tensor of the given shape.
func NewMock(shape ...int64) *MockEngine {
	t := Tensor{Shape: shape}
	t.Data = make([]float32, t.Len())
	return &MockEngine{Outputs: []Tensor{t}}
}

// NewPassthroughMock creates a MockEngine whose single output is the named input
// scaled from [0,1] back to [0,255], so a photo comes back unchanged.
func NewPassthroughMock(input string) *MockEngine {
	m := &MockEngine{}
	m.Transform = func(inputs map[string]Tensor) []Tensor {
		in := inputs[input]
		out := make([]float32, len(in.Data))
		for i, v := range in.Data {
			// +0.5 so truncation lands on the original 8-bit value
			out[i] = v*255 + 0.5
		}
		return []Tensor{{Shape: in.Shape, Data: out}}
	}
	return m
}

// NewEmptyMock creates a MockEngine whose Forward returns no outputs.
func NewEmptyMock() *MockEngine {
	return &MockEngine{}
}

// Forward records its inputs and returns the configured outputs.
func (m *MockEngine) Forward(inputs map[string]Tensor) ([]Tensor, error) {
	m.CallCount++
	m.LastInputs = inputs

	if m.Closed {
		return nil, fmt.Errorf("inference session is nil")
	}

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
	}

	for name, in := range inputs {
		if in.Len() != int64(len(in.Data)) {
			return nil, fmt.Errorf("input %q has wrong size: got %d, expected %d", name, len(in.Data), in.Len())
		}
	}

	if m.Transform != nil {
		return m.Transform(inputs), nil
	}
	return m.Outputs, nil
}

// Close marks the mock closed
func (m *MockEngine) Close() error {
	m.Closed = true
	return nil
}

// SetError configures the mock to return an error on the next Forward call
func (m *MockEngine) SetError(msg string) {
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockEngine) ClearError() {
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Factory returns a Factory that always hands out m.
func (m *MockEngine) Factory() Factory {
	return func(model []byte) (Engine, error) {
		return m, nil
	}
}

// Ensure MockEngine implements Engine at compile time
var _ Engine = (*MockEngine)(nil)
