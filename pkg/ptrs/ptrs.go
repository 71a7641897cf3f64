// Package ptrs is for pointer-related helper functions.
package ptrs

// Ptr is the &x you always wanted, for any expression.
func Ptr[T any](val T) *T {
	return &val
}
