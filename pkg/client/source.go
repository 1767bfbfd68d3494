// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package client

import (
	"strings"

	"github.com/SeisComP/common-sub009/pkg/core"
)

// splitSource separates "scheme://rest". ok is false when the input has
// no scheme separator.
func splitSource(url string) (scheme, rest string, ok bool) {
	scheme, rest, ok = strings.Cut(url, "://")
	return strings.ToLower(scheme), rest, ok
}

// validScheme follows RFC 3986: a letter followed by letters, digits,
// '+', '-' or '.'.
func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// parseSource resolves url into a scheme and the address handed to the
// protocol. fallback is used when url carries no scheme.
func parseSource(url, fallback string) (scheme, address string, res core.Result) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", "", core.NewResult(core.InvalidURL)
	}
	scheme, address, ok := splitSource(url)
	if !ok {
		scheme, address = fallback, url
	}
	if !validScheme(scheme) || address == "" {
		return "", "", core.NewResult(core.InvalidURL)
	}
	return scheme, address, core.Success
}
