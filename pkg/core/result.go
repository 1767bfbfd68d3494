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

package core

import (
	"context"
	"errors"
)

// Code identifies the outcome of a protocol or connection operation.
// Codes are opaque; compare them against the constants below.
type Code struct {
	id uint8
}

var (
	OK                     = Code{0}
	Error                  = Code{1}
	NotImplemented         = Code{2}
	InvalidURL             = Code{3}
	InvalidProtocol        = Code{4}
	NotConnected           = Code{5}
	AlreadyConnected       = Code{6}
	TimeoutError           = Code{7}
	Cancelled              = Code{8}
	NetworkError           = Code{9}
	SystemError            = Code{10}
	ConnectionClosedByPeer = Code{11}
	DuplicateUsername      = Code{12}
	GroupDoesNotExist      = Code{13}
	InboxOverflow          = Code{14}
	InboxUnderflow         = Code{15}
	OutboxOverflow         = Code{16}
	AlreadySubscribed      = Code{17}
	NotSubscribed          = Code{18}
	EncodingError          = Code{19}
	DecodingError          = Code{20}
	MissingGroup           = Code{21}
	InvalidMessageType     = Code{22}
	MessageTooLarge        = Code{23}
	ContentEncodingUnknown = Code{24}
	ContentTypeUnknown     = Code{25}
)

var codeNames = [...]string{
	"OK",
	"Error",
	"NotImplemented",
	"InvalidURL",
	"InvalidProtocol",
	"NotConnected",
	"AlreadyConnected",
	"TimeoutError",
	"Cancelled",
	"NetworkError",
	"SystemError",
	"ConnectionClosedByPeer",
	"DuplicateUsername",
	"GroupDoesNotExist",
	"InboxOverflow",
	"InboxUnderflow",
	"OutboxOverflow",
	"AlreadySubscribed",
	"NotSubscribed",
	"EncodingError",
	"DecodingError",
	"MissingGroup",
	"InvalidMessageType",
	"MessageTooLarge",
	"ContentEncodingUnknown",
	"ContentTypeUnknown",
}

var codeMessages = [...]string{
	"success",
	"unspecified error",
	"not implemented",
	"invalid URL",
	"invalid protocol",
	"not connected",
	"already connected",
	"timeout",
	"cancelled",
	"network error",
	"system error",
	"connection closed by peer",
	"duplicate username",
	"group does not exist",
	"inbox overflow",
	"inbox underflow",
	"outbox overflow",
	"already subscribed",
	"not subscribed",
	"encoding error",
	"decoding error",
	"missing group",
	"invalid message type",
	"message too large",
	"unknown content encoding",
	"unknown content type",
}

func (c Code) String() string {
	if int(c.id) < len(codeNames) {
		return codeNames[c.id]
	}
	return "Unknown"
}

// ParseCode resolves a code by its name, as carried in broker error frames.
func ParseCode(name string) (Code, bool) {
	for i, n := range codeNames {
		if n == name {
			return Code{uint8(i)}, true
		}
	}
	return Error, false
}

// Result is returned by every fallible operation. It is true (OK) only
// for the OK code and implements error for all other codes.
type Result struct {
	code Code
}

// Success is the OK result.
var Success = Result{}

// NewResult wraps a code.
func NewResult(c Code) Result {
	return Result{code: c}
}

func (r Result) OK() bool   { return r.code == OK }
func (r Result) Code() Code { return r.code }

func (r Result) Error() string {
	if int(r.code.id) < len(codeMessages) {
		return codeMessages[r.code.id]
	}
	return "unknown result"
}

func (r Result) String() string { return r.code.String() }

// Err returns nil for OK and the result itself otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return r
}

// Is lets errors.Is match results by code.
func (r Result) Is(target error) bool {
	var other Result
	if errors.As(target, &other) {
		return other.code == r.code
	}
	return false
}

// ResultOf maps an error to a result. A wrapped Result keeps its code,
// context errors map to TimeoutError and Cancelled, everything else is a
// NetworkError.
func ResultOf(err error) Result {
	if err == nil {
		return Success
	}
	var r Result
	if errors.As(err, &r) {
		return r
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewResult(TimeoutError)
	case errors.Is(err, context.Canceled):
		return NewResult(Cancelled)
	}
	return NewResult(NetworkError)
}

// IsSessionFatal reports whether a result ends the current transport session.
func IsSessionFatal(r Result) bool {
	switch r.code {
	case NetworkError, SystemError, ConnectionClosedByPeer, NotConnected:
		return true
	}
	return false
}
