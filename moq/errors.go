package moq

// CodedError is any error carrying a stable numeric code and reason
// string, the shape spec.md §7 mandates so every error kind can become a
// SUBSCRIBE_RESET or a QUIC stream/session close code without
// translation. Both cache.Error and session's own error kinds
// (RoleViolation, BoundsExceeded, Unknown) implement it.
type CodedError interface {
	error
	Code() uint64
	Reason() string
}
