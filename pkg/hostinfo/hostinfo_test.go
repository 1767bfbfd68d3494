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

package hostinfo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	want := Snapshot{Hostname: "h", ProgramName: "p", PID: 7, TotalMemory: 1024, CPUUsage: 1.5}
	got, err := Static(want).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCollector(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), s.PID)
	assert.NotEmpty(t, s.Hostname)
	assert.NotEmpty(t, s.ProgramName)
	assert.Greater(t, s.TotalMemory, uint64(0))
	assert.Greater(t, s.ClientMemoryUsage, uint64(0))
	assert.Greater(t, s.ObjectCount, uint64(0))
	assert.GreaterOrEqual(t, s.CPUUsage, 0.0)
	assert.GreaterOrEqual(t, s.Uptime, time.Duration(0))
}
