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

package logging

import (
	"context"
	"log/slog"

	"github.com/SeisComP/common-sub009/pkg/core"
)

const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// PacketLogger traces packets at debug level.
type PacketLogger struct {
	logger *slog.Logger
}

func NewPacketLogger(logger *slog.Logger) *PacketLogger {
	return &PacketLogger{logger: logger}
}

func (p *PacketLogger) Log(pkt *core.Packet, scheme, direction string) {
	if p == nil || !p.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	p.logger.Debug("packet",
		"scheme", scheme,
		"direction", direction,
		"type", pkt.Type.String(),
		"sender", pkt.Sender,
		"target", pkt.Target,
		"message_type", pkt.MessageType.String(),
		"content_encoding", pkt.ContentEncoding,
		"content_type", pkt.ContentType,
		"seq", pkt.Seq,
		"payload_size", len(pkt.Payload),
	)
}
