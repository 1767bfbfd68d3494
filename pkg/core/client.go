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

package core

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout        = 3 * time.Second
	DefaultMaxPayloadSize = 8 << 20
	DefaultSchemaVersion  = "0.13"
	DefaultScheme         = "scmp"
)

// GenerateClientName derives a client name from the program name and a
// random suffix. It is used when the caller does not request one.
func GenerateClientName() string {
	prog := strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]))
	if prog == "" || prog == "." {
		prog = "client"
	}
	hash := sha256.Sum256([]byte(uuid.New().String()))
	return prog + "-" + hex.EncodeToString(hash[:])[:8]
}

// ValidGroupName reports whether a group name can be carried by every transport.
func ValidGroupName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	return !strings.ContainsAny(name, " \t\r\n#+*>")
}
