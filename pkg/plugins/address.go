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
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/SeisComP/common-sub009/pkg/core"
)

// Address is the part of a connection URL after "scheme://".
type Address struct {
	Host     string
	Port     string
	Path     string
	Username string
	Password string
	Query    url.Values
}

// ParseAddress splits "[user[:pass]@]host[:port][/path][?query]". A missing
// port is filled from defaultPort.
func ParseAddress(address, defaultPort string) (Address, error) {
	u, err := url.Parse("x://" + strings.TrimPrefix(address, "//"))
	if err != nil || u.Hostname() == "" {
		return Address{}, fmt.Errorf("address %q: %w", address, core.NewResult(core.InvalidURL))
	}
	a := Address{
		Host:  u.Hostname(),
		Port:  u.Port(),
		Path:  strings.Trim(u.Path, "/"),
		Query: u.Query(),
	}
	if a.Port == "" {
		a.Port = defaultPort
	}
	if u.User != nil {
		a.Username = u.User.Username()
		a.Password, _ = u.User.Password()
	}
	return a, nil
}

// HostPort joins host and port.
func (a Address) HostPort() string {
	if a.Port == "" {
		return a.Host
	}
	return net.JoinHostPort(a.Host, a.Port)
}

// Topic prefixes a group with the address path, if any.
func (a Address) Topic(group, sep string) string {
	if a.Path == "" {
		return group
	}
	return strings.ReplaceAll(a.Path, "/", sep) + sep + group
}

// Group strips the address path from a topic. It reports false for topics
// outside the path.
func (a Address) Group(topic, sep string) (string, bool) {
	if a.Path == "" {
		return topic, true
	}
	prefix := strings.ReplaceAll(a.Path, "/", sep) + sep
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	return topic[len(prefix):], true
}
