// Package secret holds credential material in buffers that are wiped on
// release and redacted in every printed or serialized form.
package secret

import "crypto/subtle"

// Secret owns a byte sequence containing credential material. The zero
// value is an empty secret. Copies of the underlying bytes are only made
// through Clone, so ownership stays explicit.
type Secret struct {
	data []byte
}

// New takes ownership of b. The caller must not use b afterwards.
func New(b []byte) *Secret {
	return &Secret{data: b}
}

// FromString copies s into a fresh buffer.
func FromString(s string) *Secret {
	return &Secret{data: []byte(s)}
}

// Value returns the secret as a string. Use only at the point where the
// value leaves the process (HTTP form field, wire response).
func (s *Secret) Value() string {
	if s == nil {
		return ""
	}
	return string(s.data)
}

// Bytes returns the underlying buffer. The buffer is still owned by the
// Secret; it becomes invalid after Wipe.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.data
}

// IsEmpty reports whether the secret holds no bytes.
func (s *Secret) IsEmpty() bool {
	return s == nil || len(s.data) == 0
}

// Clone returns an independent copy of the secret.
func (s *Secret) Clone() *Secret {
	if s == nil || s.data == nil {
		return nil
	}
	c := make([]byte, len(s.data))
	copy(c, s.data)
	return &Secret{data: c}
}

// Wipe overwrites the buffer and drops it. Safe to call repeatedly and on
// a nil receiver.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}
	Zero(s.data)
	s.data = nil
}

// String implements fmt.Stringer, hiding the value.
func (s *Secret) String() string { return "[REDACTED]" }

// GoString hides the value from %#v formatting.
func (s *Secret) GoString() string { return "secret.Secret{[REDACTED]}" }

// MarshalJSON hides the value from accidental serialization. Code that
// must emit the value uses Value explicitly.
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// Zero overwrites b in a way the compiler will not elide.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
