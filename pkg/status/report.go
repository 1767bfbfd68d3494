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
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the layout of the time field.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

var ErrMalformed = errors.New("malformed status report")

// Traffic holds the protocol counters of a report.
type Traffic struct {
	SentMessages     uint64 `json:"sent_messages"`
	SentBytes        uint64 `json:"sent_bytes"`
	ReceivedMessages uint64 `json:"received_messages"`
	ReceivedBytes    uint64 `json:"received_bytes"`
}

// Report is one state-of-health record of a connection.
type Report struct {
	Hostname          string
	ProgramName       string
	PID               int
	TotalMemory       uint64
	Time              time.Time
	ClientName        string
	CPUUsage          float64
	ClientMemoryUsage uint64
	MessageQueueSize  int
	ObjectCount       uint64
	Uptime            time.Duration
	Traffic           *Traffic
	Extra             map[string]string
}

var fixedKeys = map[string]bool{
	"hostname": true, "programname": true, "pid": true, "total_memory": true,
	"time": true, "clientname": true, "cpu_usage": true, "client_memory_usage": true,
	"message_queue_size": true, "object_count": true, "uptime": true,
	"sent_messages": true, "sent_bytes": true, "received_messages": true, "received_bytes": true,
}

type pairs []string

func (p *pairs) add(key, value string) {
	*p = append(*p, key+"="+url.QueryEscape(value))
}

// Encode renders the report as key=value pairs joined by '&'. Extra
// fields follow in key order and never shadow a fixed key.
func (r Report) Encode() string {
	var p pairs
	p.add("hostname", r.Hostname)
	p.add("programname", r.ProgramName)
	p.add("pid", strconv.Itoa(r.PID))
	p.add("total_memory", strconv.FormatUint(r.TotalMemory, 10))
	p.add("time", r.Time.UTC().Format(TimeFormat))
	p.add("clientname", r.ClientName)
	p.add("cpu_usage", fmt.Sprintf("%.3f", r.CPUUsage))
	p.add("client_memory_usage", strconv.FormatUint(r.ClientMemoryUsage, 10))
	p.add("message_queue_size", strconv.Itoa(r.MessageQueueSize))
	p.add("object_count", strconv.FormatUint(r.ObjectCount, 10))
	p.add("uptime", strconv.FormatInt(int64(r.Uptime/time.Second), 10))
	if t := r.Traffic; t != nil {
		p.add("sent_messages", strconv.FormatUint(t.SentMessages, 10))
		p.add("sent_bytes", strconv.FormatUint(t.SentBytes, 10))
		p.add("received_messages", strconv.FormatUint(t.ReceivedMessages, 10))
		p.add("received_bytes", strconv.FormatUint(t.ReceivedBytes, 10))
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		if !fixedKeys[k] && k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.add(url.QueryEscape(k), r.Extra[k])
	}
	return strings.Join(p, "&")
}

// Parse reads a payload produced by Encode. Unknown keys land in Extra.
func Parse(payload string) (Report, error) {
	var r Report
	if payload == "" {
		return r, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	for _, field := range strings.Split(payload, "&") {
		rawKey, rawValue, ok := strings.Cut(field, "=")
		if !ok {
			return r, fmt.Errorf("%w: field %q", ErrMalformed, field)
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return r, fmt.Errorf("%w: key %q: %v", ErrMalformed, rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return r, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
		if err := r.set(key, value); err != nil {
			return r, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
	}
	return r, nil
}

func (r *Report) traffic() *Traffic {
	if r.Traffic == nil {
		r.Traffic = &Traffic{}
	}
	return r.Traffic
}

func (r *Report) set(key, value string) error {
	var err error
	switch key {
	case "hostname":
		r.Hostname = value
	case "programname":
		r.ProgramName = value
	case "pid":
		r.PID, err = strconv.Atoi(value)
	case "total_memory":
		r.TotalMemory, err = strconv.ParseUint(value, 10, 64)
	case "time":
		r.Time, err = time.Parse(TimeFormat, value)
	case "clientname":
		r.ClientName = value
	case "cpu_usage":
		r.CPUUsage, err = strconv.ParseFloat(value, 64)
	case "client_memory_usage":
		r.ClientMemoryUsage, err = strconv.ParseUint(value, 10, 64)
	case "message_queue_size":
		r.MessageQueueSize, err = strconv.Atoi(value)
	case "object_count":
		r.ObjectCount, err = strconv.ParseUint(value, 10, 64)
	case "uptime":
		var secs int64
		secs, err = strconv.ParseInt(value, 10, 64)
		r.Uptime = time.Duration(secs) * time.Second
	case "sent_messages":
		r.traffic().SentMessages, err = strconv.ParseUint(value, 10, 64)
	case "sent_bytes":
		r.traffic().SentBytes, err = strconv.ParseUint(value, 10, 64)
	case "received_messages":
		r.traffic().ReceivedMessages, err = strconv.ParseUint(value, 10, 64)
	case "received_bytes":
		r.traffic().ReceivedBytes, err = strconv.ParseUint(value, 10, 64)
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[key] = value
	}
	return err
}
