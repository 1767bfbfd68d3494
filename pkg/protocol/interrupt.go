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

package protocol

import "sync"

// interrupter wakes every blocking call in progress at once. An interrupt
// with nobody waiting is kept for the next call.
type interrupter struct {
	mu      sync.Mutex
	ch      chan struct{}
	gen     uint64
	waiters int
	pending bool
}

func newInterrupter() *interrupter {
	return &interrupter{ch: make(chan struct{})}
}

// enter registers a blocking call. The returned channel is closed by the
// next interrupt; leave must be called once the call returns.
func (i *interrupter) enter() (<-chan struct{}, func()) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending {
		i.pending = false
		fired := make(chan struct{})
		close(fired)
		return fired, func() {}
	}
	i.waiters++
	gen := i.gen
	return i.ch, func() {
		i.mu.Lock()
		if i.gen == gen {
			i.waiters--
		}
		i.mu.Unlock()
	}
}

func (i *interrupter) fire() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.waiters == 0 {
		i.pending = true
		return
	}
	close(i.ch)
	i.ch = make(chan struct{})
	i.gen++
	i.waiters = 0
}
