// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"net/http"
	"strings"
)

// KeepAlive reports whether the client asked for the connection to persist
// after the exchange, following HTTP/1.x defaults.
func KeepAlive(proto string, header http.Header) bool {
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok || major != 1 {
		return false
	}
	if hasToken(header, "Connection", "close") {
		return false
	}
	if minor >= 1 {
		return true
	}
	return hasToken(header, "Connection", "keep-alive")
}

func hasToken(header http.Header, key, token string) bool {
	for _, v := range header.Values(key) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
