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

package plugins

import (
	"strconv"

	"github.com/SeisComP/common-sub009/pkg/core"
)

// Headers returns the packet fields carried as broker message headers by
// transports with native header support.
func Headers(pkt *core.Packet) map[string]string {
	h := map[string]string{
		core.HeaderSender:      pkt.Sender,
		core.HeaderMessageType: pkt.MessageType.String(),
		core.HeaderSequence:    strconv.FormatUint(pkt.Seq, 10),
	}
	if pkt.ContentEncoding != "" {
		h[core.HeaderContentEncoding] = pkt.ContentEncoding
	}
	if pkt.ContentType != "" {
		h[core.HeaderContentType] = pkt.ContentType
	}
	return h
}

// PacketFromHeaders rebuilds a data packet from a header lookup. Unknown
// message types fall back to regular.
func PacketFromHeaders(group string, payload []byte, get func(string) string) *core.Packet {
	pkt := &core.Packet{
		Type:            core.PacketData,
		Sender:          get(core.HeaderSender),
		Target:          group,
		ContentEncoding: get(core.HeaderContentEncoding),
		ContentType:     get(core.HeaderContentType),
		Payload:         payload,
	}
	if mt, res := core.ParseMessageType(get(core.HeaderMessageType)); res.OK() {
		pkt.MessageType = mt
	}
	if seq, err := strconv.ParseUint(get(core.HeaderSequence), 10, 64); err == nil {
		pkt.Seq = seq
	}
	return pkt
}
