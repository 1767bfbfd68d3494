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

package scmp

import (
	"fmt"

	"github.com/SeisComP/common-sub009/pkg/core"
)

// Control frame types. Control frames travel as websocket text messages,
// data packets as binary messages in the wire format.
const (
	FrameConnect      = "connect"
	FrameConnected    = "connected"
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameReply        = "reply"
	FrameAck          = "ack"
	FrameEnter        = "enter"
	FrameLeave        = "leave"
	FrameDisconnected = "disconnected"
	FrameDisconnect   = "disconnect"
	FrameError        = "error"
)

// Control is the JSON body of a control frame.
type Control struct {
	Type       string            `json:"type"`
	ID         uint64            `json:"id,omitempty"`
	Client     string            `json:"client,omitempty"`
	Group      string            `json:"group,omitempty"`
	Groups     []string          `json:"groups,omitempty"`
	Schema     string            `json:"schema,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	MaxPayload int               `json:"max_payload,omitempty"`
	Seq        *uint64           `json:"seq,omitempty"`
	Membership bool              `json:"membership,omitempty"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// result maps a reply or error frame to a Go error carrying the result code.
func (c *Control) result() error {
	if c.Code == "" || c.Code == core.OK.String() {
		return nil
	}
	code, ok := core.ParseCode(c.Code)
	if !ok {
		code = core.Error
	}
	if c.Message != "" {
		return fmt.Errorf("scmp %s: %s: %w", c.Type, c.Message, core.NewResult(code))
	}
	return fmt.Errorf("scmp %s: %w", c.Type, core.NewResult(code))
}

func membershipPacket(c *Control) (*core.Packet, bool) {
	var kind core.PacketType
	switch c.Type {
	case FrameEnter:
		kind = core.PacketEnterGroup
	case FrameLeave:
		kind = core.PacketLeaveGroup
	case FrameDisconnected:
		kind = core.PacketDisconnected
	default:
		return nil, false
	}
	return &core.Packet{Type: kind, Sender: c.Client, Target: c.Group}, true
}
