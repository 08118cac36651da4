package inference

import (
	"context"

	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
)

// Engine loads a serialized graph descriptor and runs one synchronous inference pass.
type Engine interface {
	// Name identifies the engine in logs and errors.
	Name() string
	// Run executes model with inputs matched by name and returns one buffer per declared output, in
	// declaration order. Every failure matches ErrRunFailed.
	Run(ctx context.Context, model []byte, inputs []tensor.Named) ([]tensor.Named, error)
	// Close releases engine-wide resources.
	Close() error
}

// Signature is the declared name and shape of a graph input.
type Signature struct {
	Name string
	Dims []graph.Dimension
	// Optional inputs have an initializer default and may be omitted.
	Optional bool
}

// Signatures converts the graph input declarations to signatures. Inputs backed by an initializer
// are optional.
func Signatures(g *graph.Graph) []Signature {
	defaults := make(map[string]bool, len(g.Initializer))
	for _, init := range g.Initializer {
		defaults[init.Name] = true
	}
	sigs := make([]Signature, len(g.Input))
	for i, v := range g.Input {
		sigs[i] = Signature{Name: v.Name, Dims: v.Dims(), Optional: defaults[v.Name]}
	}
	return sigs
}

// CheckInputs matches inputs to declared signatures exactly by name and shape and returns the inputs
// reordered to declaration order.
//
// Fixed dimensions must be equal. Symbolic dimensions accept any positive size, but every use of the
// same name must bind to the same size.
func CheckInputs(decl []Signature, inputs []tensor.Named) ([]tensor.Named, error) {
	byName := make(map[string]*tensor.Buffer, len(inputs))
	for _, in := range inputs {
		if in.Buffer == nil {
			return nil, errors.Wrapf(ErrInputMismatch, "input %q has no buffer", in.Name)
		}
		if _, dup := byName[in.Name]; dup {
			return nil, errors.Wrapf(ErrInputMismatch, "input %q supplied twice", in.Name)
		}
		byName[in.Name] = in.Buffer
	}

	bound := make(map[string]int64)
	ordered := make([]tensor.Named, 0, len(decl))
	for _, sig := range decl {
		buf, ok := byName[sig.Name]
		if !ok && sig.Optional {
			continue
		}
		if !ok {
			return nil, errors.Wrapf(ErrInputMismatch, "missing input %q", sig.Name)
		}
		delete(byName, sig.Name)

		shape := buf.Shape()
		if len(shape) != len(sig.Dims) {
			return nil, errors.Wrapf(ErrShapeMismatch, "input %q has shape %v, declared %s",
				sig.Name, shape, graph.FormatDims(sig.Dims))
		}
		for i, d := range sig.Dims {
			if !d.IsSymbolic() {
				if shape[i] != d.Value {
					return nil, errors.Wrapf(ErrShapeMismatch, "input %q has shape %v, declared %s",
						sig.Name, shape, graph.FormatDims(sig.Dims))
				}
				continue
			}
			if prev, ok := bound[d.Param]; ok && prev != shape[i] {
				return nil, errors.Wrapf(ErrShapeMismatch, "dimension %q bound to %d and %d", d.Param, prev, shape[i])
			}
			bound[d.Param] = shape[i]
		}
		ordered = append(ordered, tensor.Named{Name: sig.Name, Buffer: buf})
	}

	for name := range byName {
		return nil, errors.Wrapf(ErrInputMismatch, "unexpected input %q", name)
	}
	return ordered, nil
}
