package device

// Tensor is a rank-2 array of float32 values. Higher-rank shapes used by
// the model layers are carried as row-major groupings of rows with the
// dimension bookkeeping held by the caller.
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// At returns the value at (i, j).
	// This is slow and should be used for debugging or infrequent access.
	At(i, j int) float32

	// Set sets the value at (i, j).
	Set(i, j int, v float32)

	// Data returns the underlying slice if contiguous on the host
	// (nil for transposed views).
	Data() []float32

	// ToHost copies the data out to a fresh Go slice.
	ToHost() []float32

	// CopyFromFloat32 copies data from a Go slice into the tensor.
	CopyFromFloat32(data []float32)

	// Copy copies content from another tensor of the same dimensions.
	Copy(from Tensor)

	// Rows returns a view of rows [i, k) sharing the backing storage.
	// Writes through the view are visible in the parent.
	Rows(i, k int) Tensor

	// Slice copies the sub-block [i:k, j:l) into a new tensor.
	Slice(i, k, j, l int) Tensor

	// T returns the transpose view (shared storage).
	T() Tensor

	// Mul performs matrix multiplication: t = a * b.
	Mul(a, b Tensor)

	// Add performs element-wise addition: t += other.
	Add(other Tensor)

	// AddScalar performs t += val element-wise.
	AddScalar(val float32)

	// Scale performs t *= val element-wise.
	Scale(val float32)

	// AddBias adds a bias vector (broadcast over rows).
	AddBias(bias Tensor)

	// MaskedFill writes val wherever mask is non-zero. The mask must have
	// the same dimensions as t.
	MaskedFill(mask Tensor, val float32)

	// Softmax normalizes each row into a probability distribution (in-place).
	Softmax()

	// Relu applies max(0, x) in-place.
	Relu()

	// LayerNorm normalizes each row to zero mean / unit variance, then
	// applies the learned scale and shift (in-place).
	LayerNorm(gamma, beta Tensor, eps float32)

	// Linear performs a fused matmul + bias add: returns input*weight (+bias).
	// A nil bias skips the add.
	Linear(input, weight, bias Tensor) Tensor
}

// Backend creates tensors and manages working memory.
type Backend interface {
	Name() string
	NewTensor(r, c int, data []float32) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(r, c int) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}
