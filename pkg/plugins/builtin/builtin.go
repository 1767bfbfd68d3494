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

// Package builtin registers every transport shipped with the module.
package builtin

import (
	"log/slog"
	"sync"

	"github.com/SeisComP/common-sub009/pkg/plugins"
	"github.com/SeisComP/common-sub009/pkg/plugins/jms"
	"github.com/SeisComP/common-sub009/pkg/plugins/kafka"
	"github.com/SeisComP/common-sub009/pkg/plugins/loopback"
	"github.com/SeisComP/common-sub009/pkg/plugins/mqtt"
	"github.com/SeisComP/common-sub009/pkg/plugins/mqtt5"
	"github.com/SeisComP/common-sub009/pkg/plugins/nats"
	"github.com/SeisComP/common-sub009/pkg/plugins/rabbitmq"
	"github.com/SeisComP/common-sub009/pkg/plugins/redis"
	"github.com/SeisComP/common-sub009/pkg/plugins/scmp"
	"github.com/SeisComP/common-sub009/pkg/plugins/solace"
)

// Register adds all shipped transports to r.
func Register(r *plugins.Registry) {
	r.Register(scmp.Scheme, scmp.New)
	r.Register(scmp.SecureScheme, scmp.NewSecure)
	r.Register(loopback.Scheme, loopback.New)
	r.Register(mqtt5.Scheme, mqtt5.New)
	r.Register(mqtt.Scheme, mqtt.New)
	r.Register(kafka.Scheme, kafka.New)
	r.Register(rabbitmq.Scheme, rabbitmq.New)
	r.Register(rabbitmq.SecureScheme, rabbitmq.NewSecure)
	r.Register(jms.Scheme, jms.New)
	r.Register(redis.Scheme, redis.New)
	r.Register(nats.Scheme, nats.New)
	r.Register(solace.Scheme, solace.New)
}

// NewRegistry returns a registry holding all shipped transports.
func NewRegistry(logger *slog.Logger) *plugins.Registry {
	r := plugins.NewRegistry(logger)
	Register(r)
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *plugins.Registry
)

// Default returns the process-wide registry.
func Default() *plugins.Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(nil)
	})
	return defaultRegistry
}
