package dhcp4

import "errors"

// Decoding errors (spec.md §7). UnknownOption is not an error: an
// unrecognized code simply becomes a Generic option.
var (
	ErrMalformedHeader = errors.New("dhcp4: malformed header")
	ErrMalformedOption = errors.New("dhcp4: malformed option")
)
