package layers

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/tsawler/go-vae/tensor"
)

// DefaultLeakySlope is the negative slope used by LeakyReLU unless a layer
// specifies its own
const DefaultLeakySlope float32 = 0.01

// Activation is an elementwise nonlinearity. Derivative is always evaluated
// at the pre-activation input, never at the activated output.
type Activation struct {
	Type  LayerType
	Slope float32
}

// NewActivation returns the activation for an activation layer type
func NewActivation(lt LayerType) (Activation, error) {
	if !lt.IsActivation() {
		return Activation{}, fmt.Errorf("%s is not an activation", lt)
	}
	a := Activation{Type: lt}
	if lt == LeakyReLU {
		a.Slope = DefaultLeakySlope
	}
	return a, nil
}

// ActivationFor builds the activation described by a layer spec
func ActivationFor(spec LayerSpec) (Activation, error) {
	a, err := NewActivation(spec.Type)
	if err != nil {
		return Activation{}, err
	}
	if spec.Type == LeakyReLU {
		a.Slope = spec.NegativeSlope()
	}
	return a, nil
}

// Apply evaluates the activation on a single value
func (a Activation) Apply(x float32) float32 {
	switch a.Type {
	case ReLU:
		if x > 0 {
			return x
		}
		return 0
	case LeakyReLU:
		if x > 0 {
			return x
		}
		return a.Slope * x
	case Sigmoid:
		return SigmoidValue(x)
	case Tanh:
		return math32.Tanh(x)
	}
	return x
}

// Grad evaluates the derivative of the activation at pre-activation x
func (a Activation) Grad(x float32) float32 {
	switch a.Type {
	case ReLU:
		if x > 0 {
			return 1
		}
		return 0
	case LeakyReLU:
		if x > 0 {
			return 1
		}
		return a.Slope
	case Sigmoid:
		s := SigmoidValue(x)
		return s * (1 - s)
	case Tanh:
		th := math32.Tanh(x)
		return 1 - th*th
	}
	return 1
}

// Forward applies the activation elementwise
func (a Activation) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Map(x, a.Apply)
}

// Derivative returns the elementwise derivative at the pre-activation x
func (a Activation) Derivative(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Map(x, a.Grad)
}

// Backward multiplies the upstream gradient by the derivative at x
func (a Activation) Backward(upstream, x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Mul(upstream, a.Derivative(x))
}

func (a Activation) String() string {
	if a.Type == LeakyReLU {
		return fmt.Sprintf("LeakyReLU(%g)", a.Slope)
	}
	return a.Type.String()
}

// SigmoidValue computes 1/(1+e^-x) without overflowing for large |x|
func SigmoidValue(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + math32.Exp(-x))
	}
	e := math32.Exp(x)
	return e / (1 + e)
}
