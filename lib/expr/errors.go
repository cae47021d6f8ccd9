package expr

import "errors"

// ErrInvalidFilter is wrapped by all parse failures. Callers that surface
// filter errors over the wire match against it with errors.Is.
var ErrInvalidFilter = errors.New("invalid filter expression")
