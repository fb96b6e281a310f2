package domain

import "errors"

// ErrMalformedMessage marks wire data that cannot be decoded: truncated
// sections, out-of-range offsets or compression loops.
var ErrMalformedMessage = errors.New("malformed DNS message")
