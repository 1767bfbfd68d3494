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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/SeisComP/common-sub009/pkg/core"
)

var ErrUnknownScheme = errors.New("unknown protocol scheme")

// Constructor builds a fresh, unconnected protocol for one scheme.
type Constructor func(logger *slog.Logger) core.Protocol

// Registry maps URL schemes to protocol constructors.
type Registry struct {
	constructors map[string]Constructor
	logger       *slog.Logger
	mu           sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		constructors: make(map[string]Constructor),
		logger:       logger,
	}
}

// Register adds or replaces the constructor for a scheme. Schemes are
// matched case-insensitively.
func (r *Registry) Register(scheme string, c Constructor) {
	scheme = strings.ToLower(scheme)
	r.mu.Lock()
	_, replaced := r.constructors[scheme]
	r.constructors[scheme] = c
	r.mu.Unlock()
	r.logger.Debug("registered protocol", "scheme", scheme, "replaced", replaced)
}

func (r *Registry) Unregister(scheme string) {
	r.mu.Lock()
	delete(r.constructors, strings.ToLower(scheme))
	r.mu.Unlock()
}

func (r *Registry) Has(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[strings.ToLower(scheme)]
	return ok
}

// Schemes returns the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for s := range r.constructors {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Create instantiates the protocol registered for scheme.
func (r *Registry) Create(scheme string, logger *slog.Logger) (core.Protocol, error) {
	r.mu.RLock()
	c, ok := r.constructors[strings.ToLower(scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	if logger == nil {
		logger = r.logger
	}
	return c(logger.With("scheme", strings.ToLower(scheme))), nil
}
