// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import "net/http"

// Method is the enumerated request method.
type Method int

const (
	MethodUnsupported Method = iota
	MethodGet
	MethodPost
	MethodDelete
	MethodHead
	MethodOptions
)

// Allowed lists the methods accepted by the ingress, in Allow header form.
const Allowed = "GET, HEAD, POST, DELETE, OPTIONS"

// ParseMethod classifies a method token. Tokens are case-sensitive.
func ParseMethod(token string) Method {
	switch token {
	case http.MethodGet:
		return MethodGet
	case http.MethodPost:
		return MethodPost
	case http.MethodDelete:
		return MethodDelete
	case http.MethodHead:
		return MethodHead
	case http.MethodOptions:
		return MethodOptions
	default:
		return MethodUnsupported
	}
}

// String returns the method token, or "UNSUPPORTED".
func (m Method) String() string {
	switch m {
	case MethodGet:
		return http.MethodGet
	case MethodPost:
		return http.MethodPost
	case MethodDelete:
		return http.MethodDelete
	case MethodHead:
		return http.MethodHead
	case MethodOptions:
		return http.MethodOptions
	default:
		return "UNSUPPORTED"
	}
}

// Bodiless reports whether requests with this method never carry content.
func (m Method) Bodiless() bool {
	return m == MethodGet || m == MethodHead || m == MethodDelete
}
