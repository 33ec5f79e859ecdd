//go:build netlib

package device

import (
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

// Route float32 BLAS calls through the system CBLAS when built with the
// netlib tag. The pure-Go gonum implementation remains the default.
func init() {
	blas32.Use(netlib.Implementation{})
}
