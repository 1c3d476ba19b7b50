// internal/inference/interface.go
package inference

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Len returns the element count implied by Shape.
func (t Tensor) Len() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Engine defines the interface for running one forward pass of a loaded model.
// This abstraction allows for easy mocking in tests and swapping implementations.
type Engine interface {
	// Forward runs the model on the named inputs and returns its outputs in
	// declaration order. An empty result is not an error.
	Forward(inputs map[string]Tensor) ([]Tensor, error)

	// Close releases any resources held by the engine.
	Close() error
}

// Factory builds an Engine from serialized model bytes.
type Factory func(model []byte) (Engine, error)
