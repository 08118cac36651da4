package graph

import (
	"github.com/pkg/errors"
)

// OpMatMul is the ONNX matrix multiply operator.
const OpMatMul = "MatMul"

// Validate type-checks the model the way an ONNX runtime does at load time.
//
// The graph must contain a single MatMul node whose operands resolve to float32 graph inputs or
// initializers, whose contracted dimensions agree, and whose inferred output shape equals the declared
// output shape.
func Validate(m *Model) error {
	if m == nil {
		return errors.Wrap(ErrInvalid, "nil model")
	}
	if !hasDefaultOpset(m.OpsetImport) {
		return errors.Wrap(ErrInvalid, "no opset import for the default domain")
	}

	g := &m.Graph
	values := make(map[string][]Dimension, len(g.Input)+len(g.Initializer))
	for _, init := range g.Initializer {
		dims, err := initializerDims(init)
		if err != nil {
			return err
		}
		values[init.Name] = dims
	}
	for _, in := range g.Input {
		if err := checkValue("input", in); err != nil {
			return err
		}
		values[in.Name] = in.Dims()
	}
	outputs := make(map[string]ValueInfo, len(g.Output))
	for _, out := range g.Output {
		if err := checkValue("output", out); err != nil {
			return err
		}
		outputs[out.Name] = out
	}

	if len(g.Node) != 1 {
		return errors.Wrapf(ErrInvalid, "graph %q has %d nodes, want 1", g.Name, len(g.Node))
	}
	node := g.Node[0]
	if node.OpType != OpMatMul {
		return errors.Wrapf(ErrInvalid, "unsupported operator %q", node.OpType)
	}
	if len(node.Input) != 2 || len(node.Output) != 1 {
		return errors.Wrapf(ErrInvalid, "%s takes 2 inputs and 1 output, got %d and %d",
			OpMatMul, len(node.Input), len(node.Output))
	}

	a, ok := values[node.Input[0]]
	if !ok {
		return errors.Wrapf(ErrInvalid, "node %q input %q is not declared", node.Name, node.Input[0])
	}
	b, ok := values[node.Input[1]]
	if !ok {
		return errors.Wrapf(ErrInvalid, "node %q input %q is not declared", node.Name, node.Input[1])
	}
	inferred, err := InferMatMul(a, b)
	if err != nil {
		return errors.Wrapf(err, "node %q", node.Name)
	}

	out, ok := outputs[node.Output[0]]
	if !ok {
		return errors.Wrapf(ErrInvalid, "node %q output %q is not a graph output", node.Name, node.Output[0])
	}
	if !sameDims(out.Dims(), inferred) {
		return errors.Wrapf(ErrInvalid, "output %q declared %s, inferred %s",
			out.Name, FormatDims(out.Dims()), FormatDims(inferred))
	}
	return nil
}

// InferMatMul computes the output shape of A x B under ONNX MatMul broadcasting rules.
//
// Both operands need rank 2 or more. The last dimension of A contracts with the second to last
// dimension of B; leading dimensions broadcast.
func InferMatMul(a, b []Dimension) ([]Dimension, error) {
	if len(a) < 2 || len(b) < 2 {
		return nil, errors.Wrapf(ErrInvalid, "%s operands need rank >= 2, got %s and %s",
			OpMatMul, FormatDims(a), FormatDims(b))
	}
	k1, k2 := a[len(a)-1], b[len(b)-2]
	if !compatible(k1, k2) {
		return nil, errors.Wrapf(ErrInvalid, "%s inner dimensions differ: %s x %s",
			OpMatMul, FormatDims(a), FormatDims(b))
	}

	batchA, batchB := a[:len(a)-2], b[:len(b)-2]
	n := len(batchA)
	if len(batchB) > n {
		n = len(batchB)
	}
	out := make([]Dimension, n, n+2)
	for i := 0; i < n; i++ {
		da, okA := dimFromRight(batchA, n-1-i)
		db, okB := dimFromRight(batchB, n-1-i)
		switch {
		case !okA:
			out[i] = db
		case !okB:
			out[i] = da
		case isOne(da):
			out[i] = db
		case isOne(db):
			out[i] = da
		case compatible(da, db):
			out[i] = da
		default:
			return nil, errors.Wrapf(ErrInvalid, "%s batch dimensions do not broadcast: %s x %s",
				OpMatMul, FormatDims(a), FormatDims(b))
		}
	}
	return append(out, a[len(a)-2], b[len(b)-1]), nil
}

func dimFromRight(dims []Dimension, fromRight int) (Dimension, bool) {
	i := len(dims) - 1 - fromRight
	if i < 0 {
		return Dimension{}, false
	}
	return dims[i], true
}

func isOne(d Dimension) bool {
	return !d.IsSymbolic() && d.Value == 1
}

// compatible reports whether two dimensions can be equal at run time. Two fixed sizes must match
// and two symbolic sizes must share a name; a fixed size against a symbolic one is left to run time.
func compatible(a, b Dimension) bool {
	switch {
	case a.IsSymbolic() && b.IsSymbolic():
		return a.Param == b.Param
	case a.IsSymbolic() || b.IsSymbolic():
		return true
	default:
		return a.Value == b.Value
	}
}

func sameDims(a, b []Dimension) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasDefaultOpset(opsets []OperatorSetID) bool {
	for _, o := range opsets {
		if (o.Domain == "" || o.Domain == "ai.onnx") && o.Version >= 1 {
			return true
		}
	}
	return false
}

func checkValue(kind string, v ValueInfo) error {
	if v.Name == "" {
		return errors.Wrapf(ErrInvalid, "unnamed graph %s", kind)
	}
	if v.Type.TensorType.ElemType != DataTypeFloat {
		return errors.Wrapf(ErrInvalid, "%s %q has element type %s, want float",
			kind, v.Name, v.Type.TensorType.ElemType)
	}
	for i, d := range v.Dims() {
		if !d.IsSymbolic() && d.Value <= 0 {
			return errors.Wrapf(ErrInvalid, "%s %q dimension %d is neither fixed nor symbolic", kind, v.Name, i)
		}
	}
	return nil
}

func initializerDims(init Initializer) ([]Dimension, error) {
	if init.Name == "" {
		return nil, errors.Wrap(ErrInvalid, "unnamed initializer")
	}
	if init.DataType != DataTypeFloat {
		return nil, errors.Wrapf(ErrInvalid, "initializer %q has data type %s, want float", init.Name, init.DataType)
	}
	dims := make([]Dimension, len(init.Dims))
	size := int64(1)
	for i, d := range init.Dims {
		if d <= 0 {
			return nil, errors.Wrapf(ErrInvalid, "initializer %q dimension %d is %d", init.Name, i, d)
		}
		dims[i] = Fixed(d)
		size *= d
	}
	if int64(len(init.FloatData)) != size {
		return nil, errors.Wrapf(ErrInvalid, "initializer %q holds %d values, shape needs %d",
			init.Name, len(init.FloatData), size)
	}
	return dims, nil
}
