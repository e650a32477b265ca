// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingress

// State is the protocol state of a connection.
type State int

const (
	// Idle accepts a new start line. A dispatched request may still be
	// waiting for its response.
	Idle State = iota
	// ExpectingContent relays body events to the open request.
	ExpectingContent
	// Closing drops every inbound event; the transport is being closed.
	Closing
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ExpectingContent:
		return "expecting_content"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Reasons used to label protocol violations.
const (
	reasonSecondStartLine    = "second_start_line"
	reasonUnsolicitedContent = "unsolicited_content"
	reasonUnexpectedContent  = "unexpected_content"
	reasonUnrecognized       = "unrecognized"
	reasonBadRequest         = "bad_request"
	reasonUnsupportedMethod  = "unsupported_method"
)
