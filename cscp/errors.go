package cscp

import "fmt"

// UnknownProtocolError is returned when a header's protocol tag is not
// recognised by this implementation at all.
type UnknownProtocolError struct {
	Tag string
}

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("unknown CSCP protocol tag %q", e.Tag)
}

// UnexpectedProtocolError is returned when a header's protocol tag is
// recognised but does not match what this reader speaks (e.g. an older
// satellite's plain "CSCP\x01").
type UnexpectedProtocolError struct {
	Tag      string
	Expected string
}

func (e *UnexpectedProtocolError) Error() string {
	return fmt.Sprintf("unexpected CSCP protocol tag %q, expected %q", e.Tag, e.Expected)
}

// MalformedError is returned for any structural decode failure: wrong
// frame count, undecodable field, or a verb type out of range.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed CSCP message: %s", e.Reason)
}
