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

// Package routing keeps the group membership of an in-process broker.
package routing

import (
	"sort"
	"sync"
)

// Table maps group names to the set of members subscribed to them.
type Table struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{}
}

func NewTable() *Table {
	return &Table{groups: make(map[string]map[string]struct{})}
}

// Join adds member to group. It reports false if it was already there.
func (t *Table) Join(group, member string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.groups[group]
	if !ok {
		set = make(map[string]struct{})
		t.groups[group] = set
	}
	if _, dup := set[member]; dup {
		return false
	}
	set[member] = struct{}{}
	return true
}

// Leave removes member from group. It reports false if it was not there.
func (t *Table) Leave(group, member string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.groups[group]
	if !ok {
		return false
	}
	if _, ok := set[member]; !ok {
		return false
	}
	delete(set, member)
	if len(set) == 0 {
		delete(t.groups, group)
	}
	return true
}

// LeaveAll removes member from every group and returns the groups it left,
// sorted.
func (t *Table) LeaveAll(member string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var left []string
	for g, set := range t.groups {
		if _, ok := set[member]; ok {
			delete(set, member)
			left = append(left, g)
			if len(set) == 0 {
				delete(t.groups, g)
			}
		}
	}
	sort.Strings(left)
	return left
}

// Members returns the members of group, sorted.
func (t *Table) Members(group string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.groups[group]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (t *Table) IsMember(group, member string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.groups[group][member]
	return ok
}

// Groups returns every group with at least one member, sorted.
func (t *Table) Groups() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.groups))
	for g := range t.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
