package device

import (
	"log"
	"math"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/seqloom/seqloom/internal/math32"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		pool: sync.Pool{
			New: func() interface{} {
				return &CPUTensor{}
			},
		},
	}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

func (b *CPUBackend) NewTensor(r, c int, data []float32) Tensor {
	size := r * c
	t := &CPUTensor{
		backend: b,
		rows:    r,
		cols:    c,
	}

	if data == nil {
		t.data = make([]float32, size)
	} else {
		if len(data) != size {
			log.Panicf("NewTensor: data length %d does not match %dx%d", len(data), r, c)
		}
		t.data = make([]float32, size)
		copy(t.data, data)
	}

	return t
}

func (b *CPUBackend) GetTensor(r, c int) Tensor {
	v := b.pool.Get()
	ct, ok := v.(*CPUTensor)
	if !ok || ct == nil {
		ct = &CPUTensor{}
	}

	ct.backend = b
	ct.rows = r
	ct.cols = c
	ct.trans = false
	size := r * c
	if cap(ct.data) < size {
		poolMisses.Inc()
		ct.data = make([]float32, size)
	} else {
		poolHits.Inc()
		ct.data = ct.data[:size]
		for i := range ct.data {
			ct.data[i] = 0
		}
	}
	return ct
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok {
		return // don't pool foreign tensors
	}

	ct.rows = 0
	ct.cols = 0
	ct.trans = false
	b.pool.Put(ct)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

type CPUTensor struct {
	backend *CPUBackend
	data    []float32
	rows    int
	cols    int
	trans   bool // transposed view flag
}

func (t *CPUTensor) Dims() (int, int) {
	if t.trans {
		return t.cols, t.rows
	}
	return t.rows, t.cols
}

func (t *CPUTensor) At(i, j int) float32 {
	if t.trans {
		return t.data[j*t.cols+i]
	}
	return t.data[i*t.cols+j]
}

func (t *CPUTensor) Set(i, j int, v float32) {
	if t.trans {
		t.data[j*t.cols+i] = v
	} else {
		t.data[i*t.cols+j] = v
	}
}

func (t *CPUTensor) Data() []float32 {
	if t.trans {
		return nil
	}
	return t.data
}

func (t *CPUTensor) ToHost() []float32 {
	if t.trans {
		rows, cols := t.Dims()
		out := make([]float32, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[i*cols+j] = t.At(i, j)
			}
		}
		return out
	}

	out := make([]float32, len(t.data))
	copy(out, t.data)
	return out
}

func (t *CPUTensor) CopyFromFloat32(data []float32) {
	if len(data) != len(t.data) {
		log.Panicf("CopyFromFloat32: length %d does not match tensor size %d", len(data), len(t.data))
	}
	copy(t.data, data)
}

func (t *CPUTensor) Copy(from Tensor) {
	ft, ok := from.(*CPUTensor)
	if !ok {
		log.Panic("Copy between different backends not supported")
	}

	tr, tc := t.Dims()
	fr, fc := ft.Dims()

	if tr != fr || tc != fc {
		log.Panicf("Copy: dimension mismatch. Target: %dx%d, Source: %dx%d", tr, tc, fr, fc)
	}

	if !t.trans && !ft.trans {
		copy(t.data, ft.data)
	} else {
		for i := 0; i < tr; i++ {
			for j := 0; j < tc; j++ {
				t.Set(i, j, ft.At(i, j))
			}
		}
	}
}

func (t *CPUTensor) Rows(i, k int) Tensor {
	if t.trans {
		log.Panic("Rows view not supported on transposed tensors")
	}
	if i < 0 || k > t.rows || i >= k {
		log.Panicf("Rows: invalid range [%d, %d) for %d rows", i, k, t.rows)
	}
	return &CPUTensor{
		backend: t.backend,
		data:    t.data[i*t.cols : k*t.cols],
		rows:    k - i,
		cols:    t.cols,
	}
}

func (t *CPUTensor) Slice(i, k, j, l int) Tensor {
	sliceRows := k - i
	sliceCols := l - j

	if sliceRows <= 0 || sliceCols <= 0 {
		log.Panic("Slice: invalid dimensions")
	}

	// This is a copy, not a view.
	out := t.backend.NewTensor(sliceRows, sliceCols, nil)
	for rowIdx := 0; rowIdx < sliceRows; rowIdx++ {
		for colIdx := 0; colIdx < sliceCols; colIdx++ {
			out.Set(rowIdx, colIdx, t.At(i+rowIdx, j+colIdx))
		}
	}
	return out
}

func (t *CPUTensor) T() Tensor {
	return &CPUTensor{
		backend: t.backend,
		data:    t.data, // share data
		rows:    t.rows,
		cols:    t.cols,
		trans:   !t.trans,
	}
}

// Mul computes t = a * b using a BLAS level-3 GEMM.
func (t *CPUTensor) Mul(a, b Tensor) {
	ma, ok1 := a.(*CPUTensor)
	mb, ok2 := b.(*CPUTensor)

	if !ok1 || !ok2 {
		log.Panic("Mixed backend Mul not supported")
	}
	if t.trans {
		log.Panic("Mul: result tensor must not be a transposed view")
	}

	ar, ac := ma.Dims()
	br, bc := mb.Dims()

	if ac != br {
		log.Panicf("Mul: dimension mismatch. A cols (%d) != B rows (%d)", ac, br)
	}
	if t.rows != ar || t.cols != bc {
		log.Panicf("Mul: result tensor dimension mismatch. Expected %dx%d, got %dx%d", ar, bc, t.rows, t.cols)
	}

	tA, tB := blas.NoTrans, blas.NoTrans
	if ma.trans {
		tA = blas.Trans
	}
	if mb.trans {
		tB = blas.Trans
	}

	blas32.Gemm(tA, tB, 1,
		blas32.General{Rows: ma.rows, Cols: ma.cols, Stride: ma.cols, Data: ma.data},
		blas32.General{Rows: mb.rows, Cols: mb.cols, Stride: mb.cols, Data: mb.data},
		0,
		blas32.General{Rows: t.rows, Cols: t.cols, Stride: t.cols, Data: t.data})
}

func (t *CPUTensor) Add(other Tensor) {
	ot, ok := other.(*CPUTensor)
	if !ok {
		log.Panic("Mixed backend Add not supported")
	}

	tr, tc := t.Dims()
	or, oc := ot.Dims()

	if tr != or || tc != oc {
		log.Panicf("Add: dimension mismatch. Target: %dx%d, Other: %dx%d", tr, tc, or, oc)
	}

	if !t.trans && !ot.trans {
		math32.Add(t.data, ot.data)
	} else {
		for i := 0; i < tr; i++ {
			for j := 0; j < tc; j++ {
				t.Set(i, j, t.At(i, j)+ot.At(i, j))
			}
		}
	}
}

func (t *CPUTensor) AddScalar(val float32) {
	for i := range t.data {
		t.data[i] += val
	}
}

func (t *CPUTensor) Scale(val float32) {
	for i := range t.data {
		t.data[i] *= val
	}
}

func (t *CPUTensor) AddBias(bias Tensor) {
	bt, ok := bias.(*CPUTensor)
	if !ok {
		log.Panic("Mixed backend AddBias not supported")
	}
	if t.trans {
		log.Panic("AddBias not supported on transposed tensor views")
	}

	r, c := t.Dims()
	br, bc := bias.Dims()

	if br != 1 && bc != 1 {
		log.Panic("AddBias: bias must be a vector (1xN or Nx1)")
	}

	var biasData []float32
	if bt.trans {
		biasData = bt.ToHost()
	} else {
		biasData = bt.data
	}

	if len(biasData) != c {
		log.Panicf("AddBias: bias length %d does not match tensor columns %d", len(biasData), c)
	}

	for i := 0; i < r; i++ {
		math32.Add(t.data[i*c:(i+1)*c], biasData)
	}
}

func (t *CPUTensor) MaskedFill(mask Tensor, val float32) {
	mt, ok := mask.(*CPUTensor)
	if !ok {
		log.Panic("Mixed backend MaskedFill not supported")
	}
	if t.trans {
		log.Panic("MaskedFill not supported on transposed tensor views")
	}

	tr, tc := t.Dims()
	mr, mc := mt.Dims()
	if tr != mr || tc != mc {
		log.Panicf("MaskedFill: dimension mismatch. Target: %dx%d, Mask: %dx%d", tr, tc, mr, mc)
	}

	if !mt.trans {
		for i, m := range mt.data {
			if m != 0 {
				t.data[i] = val
			}
		}
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			if mt.At(i, j) != 0 {
				t.data[i*t.cols+j] = val
			}
		}
	}
}

func (t *CPUTensor) Softmax() {
	if t.trans {
		log.Panic("Softmax not supported on transposed tensor views")
	}
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		math32.Softmax(t.data[i*c : (i+1)*c])
	}
}

func (t *CPUTensor) Relu() {
	if t.trans {
		log.Panic("Relu not supported on transposed tensor views")
	}
	math32.Relu(t.data)
}

func (t *CPUTensor) LayerNorm(gamma, beta Tensor, eps float32) {
	gt, ok1 := gamma.(*CPUTensor)
	bt, ok2 := beta.(*CPUTensor)
	if !ok1 || !ok2 {
		log.Panic("Mixed backend LayerNorm not supported")
	}
	if t.trans {
		log.Panic("LayerNorm not supported on transposed tensor views")
	}

	var gammaData, betaData []float32
	if gt.trans {
		gammaData = gt.ToHost()
	} else {
		gammaData = gt.data
	}
	if bt.trans {
		betaData = bt.ToHost()
	} else {
		betaData = bt.data
	}

	r, c := t.Dims()
	if len(gammaData) < c || len(betaData) < c {
		log.Panic("LayerNorm: parameter dimension mismatch")
	}

	for i := 0; i < r; i++ {
		row := t.data[i*c : (i+1)*c]

		var sum float32
		for _, v := range row {
			sum += v
		}
		mean := sum / float32(c)

		var varSum float32
		for _, v := range row {
			diff := v - mean
			varSum += diff * diff
		}
		variance := varSum / float32(c)
		invStd := 1 / float32(math.Sqrt(float64(variance+eps)))

		for j := 0; j < c; j++ {
			row[j] = (row[j]-mean)*invStd*gammaData[j] + betaData[j]
		}
	}
}

func (t *CPUTensor) Linear(input, weight, bias Tensor) Tensor {
	r, _ := input.Dims()
	_, wc := weight.Dims()

	result := t.backend.GetTensor(r, wc)
	result.Mul(input, weight)

	if bias != nil {
		result.AddBias(bias)
	}

	return result
}
