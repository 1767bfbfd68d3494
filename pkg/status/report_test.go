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

package status

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInvertsEncode(t *testing.T) {
	in := Report{
		Hostname:          "proc01",
		ProgramName:       "scmaster",
		PID:               1,
		TotalMemory:       8192,
		Time:              time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC),
		ClientName:        "scmaster-1",
		CPUUsage:          0.25,
		ClientMemoryUsage: 512,
		MessageQueueSize:  4,
		ObjectCount:       9,
		Uptime:            time.Hour,
		Traffic:           &Traffic{SentMessages: 1, SentBytes: 2, ReceivedMessages: 3, ReceivedBytes: 4},
		Extra:             map[string]string{"response time": "12 ms"},
	}

	out, err := Parse(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseWithoutTraffic(t *testing.T) {
	out, err := Parse(Report{ClientName: "x"}.Encode())
	require.NoError(t, err)
	assert.Nil(t, out.Traffic)
	assert.Nil(t, out.Extra)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, payload := range []string{"", "hostname", "pid=abc", "time=yesterday", "cpu_usage=%zz"} {
		_, err := Parse(payload)
		assert.True(t, errors.Is(err, ErrMalformed), "payload %q: %v", payload, err)
	}
}
