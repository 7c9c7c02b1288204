// Package result provides the success/failure wrapper and typed error
// taxonomy used by every fallible bot operation.
//
// Once a façade is running, per-operation failures (send, edit, delete,
// react, thread, upload, directory lookups) are always returned as Result
// values so that one failed operation never unwinds caller control flow.
// Failures that abort façade usability entirely (connection refused, no
// adapter registered) are plain errors returned from construction and
// Connect instead; see errors.go.
package result

// Result is a discriminated outcome: a success carrying a value of type T,
// or a failure carrying a typed error. Exactly one variant is active.
type Result[T any] struct {
	value T
	err   error
}

// Void is the value type for results that carry no payload.
type Void struct{}

// Ok constructs a success result carrying v.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail constructs a failure result carrying err.
func Fail[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Done is the canonical success value for valueless operations.
func Done() Result[Void] {
	return Ok(Void{})
}

// OK reports whether the result is a success.
func (r Result[T]) OK() bool {
	return r.err == nil
}

// Value returns the success value. For a failure it returns the zero value;
// callers should check OK or Err first.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the failure error, or nil for a success.
func (r Result[T]) Err() error {
	return r.err
}

// Unpack returns the value and error as an ordinary Go pair.
func (r Result[T]) Unpack() (T, error) {
	return r.value, r.err
}

// MustValue returns the success value and panics on failure. Intended for
// tests only; adapter internals must never call it.
func (r Result[T]) MustValue() T {
	if r.err != nil {
		panic("result: MustValue called on failure: " + r.err.Error())
	}
	return r.value
}
