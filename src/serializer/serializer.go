// Package serializer models the Serializer capability (C1): converting a
// K or V to/from a self-delimited byte sequence, plus a total-order
// comparator. The B+tree core is generic over this capability and never
// inspects K/V directly.
package serializer

// Serializer converts values of type T to and from a self-delimiting
// byte sequence and supplies the total order the tree sorts keys by. ID
// is the string stamped into BTreeInfo records so a reopened tree can be
// matched back to the same serializer implementation.
type Serializer[T any] interface {
	// ID is a short stable name for this serializer, persisted in
	// BTreeInfo so a reopened database can sanity-check it was opened
	// with the same key/value codec.
	ID() string

	// Encode appends the serialized form of v to dst and returns the
	// extended slice. The encoding must be self-delimiting: Decode must
	// be able to recover v and the number of bytes consumed from a
	// buffer that may have trailing bytes belonging to the next field.
	Encode(dst []byte, v T) []byte

	// Decode parses one value of type T from the front of src, returning
	// the value and the number of bytes consumed.
	Decode(src []byte) (v T, n int, err error)

	// Compare returns <0, 0, >0 as a < b, a == b, a > b under this
	// serializer's total order. The B+tree relies on this to keep keys
	// strictly ordered.
	Compare(a, b T) int
}

// Registry looks up a Serializer by the ID string stamped into a
// BTreeInfo record, so catalog code opening an existing tree can
// reconstruct the right codec without the caller re-specifying it.
type Registry struct {
	byID map[string]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]any)}
}

// Register adds s under its own ID, overwriting any previous entry with
// that ID.
func Register[T any](r *Registry, s Serializer[T]) {
	r.byID[s.ID()] = s
}

// Lookup retrieves the Serializer[T] previously registered under id. The
// boolean is false if no entry exists under id, or if it exists but was
// registered with a different T (a caller/codec mismatch).
func Lookup[T any](r *Registry, id string) (Serializer[T], bool) {
	raw, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	s, ok := raw.(Serializer[T])
	return s, ok
}
