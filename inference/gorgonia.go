package inference

import (
	"context"

	"github.com/nvr-ai/go-npu/graph"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	gt "gorgonia.org/tensor"
	"k8s.io/klog/v2"
)

// GorgoniaName identifies the software engine.
const GorgoniaName = "gorgonia"

// GorgoniaEngine executes MatMul graphs in-process on a gorgonia tape machine. It needs no native
// library and serves as the fallback when ONNX Runtime cannot be loaded.
type GorgoniaEngine struct{}

// NewGorgoniaEngine returns the software engine.
func NewGorgoniaEngine() *GorgoniaEngine {
	return &GorgoniaEngine{}
}

// Name returns "gorgonia".
func (e *GorgoniaEngine) Name() string {
	return GorgoniaName
}

// Close is a no-op; every run releases its own graph.
func (e *GorgoniaEngine) Close() error {
	return nil
}

// Run decodes and type-checks the descriptor, then evaluates its MatMul node.
func (e *GorgoniaEngine) Run(ctx context.Context, model []byte, inputs []tensor.Named) ([]tensor.Named, error) {
	logger := klog.FromContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, runFailed(e.Name(), err)
	}

	m, err := graph.Decode(model)
	if err != nil {
		return nil, runFailed(e.Name(), err)
	}
	if err := graph.Validate(m); err != nil {
		return nil, runFailed(e.Name(), err)
	}
	ordered, err := CheckInputs(Signatures(&m.Graph), inputs)
	if err != nil {
		return nil, runFailed(e.Name(), err)
	}

	values := make(map[string]*tensor.Buffer, len(m.Graph.Initializer)+len(ordered))
	for _, init := range m.Graph.Initializer {
		buf, err := tensor.New(init.Dims, append([]float32(nil), init.FloatData...))
		if err != nil {
			return nil, runFailed(e.Name(), errors.Wrapf(err, "initializer %q", init.Name))
		}
		values[init.Name] = buf
	}
	for _, in := range ordered {
		values[in.Name] = in.Buffer
	}

	node := m.Graph.Node[0]
	logger.V(4).Info("Evaluating node", "node", node.Name, "op", node.OpType, "inputs", node.Input)
	y, err := MatMul(values[node.Input[0]], values[node.Input[1]])
	if err != nil {
		return nil, runFailed(e.Name(), errors.Wrapf(err, "node %q", node.Name))
	}
	values[node.Output[0]] = y

	outputs := make([]tensor.Named, 0, len(m.Graph.Output))
	for _, decl := range m.Graph.Output {
		buf, ok := values[decl.Name]
		if !ok {
			return nil, runFailed(e.Name(), errors.Errorf("output %q was not produced", decl.Name))
		}
		if err := checkProduced(decl, buf); err != nil {
			return nil, runFailed(e.Name(), err)
		}
		outputs = append(outputs, tensor.Named{Name: decl.Name, Buffer: buf})
	}
	return outputs, nil
}

func checkProduced(decl graph.ValueInfo, buf *tensor.Buffer) error {
	dims := decl.Dims()
	shape := buf.Shape()
	if len(dims) != len(shape) {
		return errors.Wrapf(ErrShapeMismatch, "output %q has shape %v, declared %s", decl.Name, shape, graph.FormatDims(dims))
	}
	for i, d := range dims {
		if !d.IsSymbolic() && d.Value != shape[i] {
			return errors.Wrapf(ErrShapeMismatch, "output %q has shape %v, declared %s", decl.Name, shape, graph.FormatDims(dims))
		}
	}
	return nil
}

// MatMul multiplies a by b with ONNX MatMul semantics: the trailing two dimensions form matrices and
// leading batch dimensions broadcast.
//
// A rank-2 left operand is folded into a single multiplication against every batch of b at once.
func MatMul(a, b *tensor.Buffer) (*tensor.Buffer, error) {
	if a == nil || b == nil {
		return nil, errors.Wrap(ErrInputMismatch, "missing MatMul operand")
	}
	as, bs := a.Shape(), b.Shape()
	if len(as) < 2 || len(bs) < 2 {
		return nil, errors.Wrapf(ErrUnsupported, "MatMul operands need rank >= 2, got %v and %v", as, bs)
	}
	m, k := int(as[len(as)-2]), int(as[len(as)-1])
	kb, p := int(bs[len(bs)-2]), int(bs[len(bs)-1])
	if k != kb {
		return nil, errors.Wrapf(ErrShapeMismatch, "inner dimensions %d and %d differ", k, kb)
	}
	batch, err := broadcastBatch(as[:len(as)-2], bs[:len(bs)-2])
	if err != nil {
		return nil, err
	}
	outShape := append(append([]int64(nil), batch...), int64(m), int64(p))

	if len(as) == 2 {
		data, err := foldedMatMul(a.Data(), b.Data(), m, k, p, count(batch))
		if err != nil {
			return nil, err
		}
		return tensor.New(outShape, data)
	}

	prog, err := newMatMulProgram(m, k, p)
	if err != nil {
		return nil, err
	}
	defer prog.Close()

	out := make([]float32, 0, count(batch)*m*p)
	aBatch, bBatch := as[:len(as)-2], bs[:len(bs)-2]
	for i := 0; i < count(batch); i++ {
		idx := unravel(i, batch)
		ai := batchOffset(idx, aBatch) * m * k
		bi := batchOffset(idx, bBatch) * k * p
		y, err := prog.run(a.Data()[ai:ai+m*k], b.Data()[bi:bi+k*p])
		if err != nil {
			return nil, err
		}
		out = append(out, y...)
	}
	return tensor.New(outShape, out)
}

// foldedMatMul computes W[M,K] x X[n,K,P] as one product W x X2 where X2[k, j*P+q] = X[j,k,q],
// then unfolds Y2[M, n*P] back to [n,M,P].
func foldedMatMul(w, x []float32, m, k, p, n int) ([]float32, error) {
	cols := n * p
	x2 := make([]float32, k*cols)
	for j := 0; j < n; j++ {
		for r := 0; r < k; r++ {
			for q := 0; q < p; q++ {
				x2[r*cols+j*p+q] = x[(j*k+r)*p+q]
			}
		}
	}

	prog, err := newMatMulProgram(m, k, cols)
	if err != nil {
		return nil, err
	}
	defer prog.Close()
	y2, err := prog.run(w, x2)
	if err != nil {
		return nil, err
	}

	y := make([]float32, n*m*p)
	for j := 0; j < n; j++ {
		for r := 0; r < m; r++ {
			for q := 0; q < p; q++ {
				y[(j*m+r)*p+q] = y2[r*cols+j*p+q]
			}
		}
	}
	return y, nil
}

// matMulProgram is a compiled [m,k] x [k,p] expression graph that can be rerun with new operands.
//
// Gorgonia treats a matrix with a unit dimension as a vector and switches to a vector product, so
// every dimension is zero-padded to at least 2 and the [m,p] corner of the result is kept.
type matMulProgram struct {
	m, k, p    int
	pm, pk, pp int
	a, b, y    *G.Node
	vm         G.VM
}

func newMatMulProgram(m, k, p int) (*matMulProgram, error) {
	pr := &matMulProgram{m: m, k: k, p: p, pm: atLeast2(m), pk: atLeast2(k), pp: atLeast2(p)}
	g := G.NewGraph()
	pr.a = G.NewMatrix(g, gt.Float32, G.WithShape(pr.pm, pr.pk), G.WithName("a"))
	pr.b = G.NewMatrix(g, gt.Float32, G.WithShape(pr.pk, pr.pp), G.WithName("b"))
	y, err := G.Mul(pr.a, pr.b)
	if err != nil {
		return nil, errors.Wrap(err, "building MatMul expression")
	}
	pr.y = y
	pr.vm = G.NewTapeMachine(g)
	return pr, nil
}

func (pr *matMulProgram) run(a, b []float32) ([]float32, error) {
	defer pr.vm.Reset()

	left, err := tensor.FromFlat(pr.pm, pr.pk, pad(a, pr.m, pr.k, pr.pm, pr.pk))
	if err != nil {
		return nil, errors.Wrap(err, "left operand")
	}
	right, err := tensor.FromFlat(pr.pk, pr.pp, pad(b, pr.k, pr.p, pr.pk, pr.pp))
	if err != nil {
		return nil, errors.Wrap(err, "right operand")
	}
	if err := G.Let(pr.a, left.Dense()); err != nil {
		return nil, errors.Wrap(err, "binding left operand")
	}
	if err := G.Let(pr.b, right.Dense()); err != nil {
		return nil, errors.Wrap(err, "binding right operand")
	}
	if err := pr.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "running MatMul")
	}

	full, ok := pr.y.Value().Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected MatMul result type %T", pr.y.Value().Data())
	}
	if len(full) != pr.pm*pr.pp {
		return nil, errors.Wrapf(ErrShapeMismatch, "MatMul produced %d values, want %d", len(full), pr.pm*pr.pp)
	}
	out := make([]float32, 0, pr.m*pr.p)
	for r := 0; r < pr.m; r++ {
		out = append(out, full[r*pr.pp:r*pr.pp+pr.p]...)
	}
	return out, nil
}

func (pr *matMulProgram) Close() error {
	return pr.vm.Close()
}

func atLeast2(n int) int {
	if n < 2 {
		return 2
	}
	return n
}

// pad copies a rows x cols matrix into a zeroed prows x pcols matrix. It returns src unchanged when
// no padding is needed.
func pad(src []float32, rows, cols, prows, pcols int) []float32 {
	if rows == prows && cols == pcols {
		return src
	}
	dst := make([]float32, prows*pcols)
	for r := 0; r < rows; r++ {
		copy(dst[r*pcols:r*pcols+cols], src[r*cols:(r+1)*cols])
	}
	return dst
}

// broadcastBatch right-aligns two batch shapes and broadcasts dimensions of size 1.
func broadcastBatch(a, b []int64) ([]int64, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		da, db := dimAt(a, n, i), dimAt(b, n, i)
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			return nil, errors.Wrapf(ErrShapeMismatch, "batch dimensions %v and %v do not broadcast", a, b)
		}
	}
	return out, nil
}

// dimAt returns dimension i of shape when right-aligned to rank n, padding with 1.
func dimAt(shape []int64, n, i int) int64 {
	j := i - (n - len(shape))
	if j < 0 {
		return 1
	}
	return shape[j]
}

func count(shape []int64) int {
	c := 1
	for _, d := range shape {
		c *= int(d)
	}
	return c
}

func unravel(i int, shape []int64) []int64 {
	idx := make([]int64, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		idx[d] = int64(i) % shape[d]
		i /= int(shape[d])
	}
	return idx
}

// batchOffset maps a broadcast batch index onto an operand's own batch shape.
func batchOffset(idx, shape []int64) int {
	off := 0
	for i, d := range shape {
		v := idx[len(idx)-len(shape)+i]
		if d == 1 {
			v = 0
		}
		off = off*int(d) + int(v)
	}
	return off
}
