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

// Package message holds the application-level messages carried inside data
// packets and the class registry codecs use to rebuild them.
package message

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownClass = errors.New("unknown message class")

// Message is implemented by every type that can be sent through a connection.
// Implementations must be pointer types with exported fields.
type Message interface {
	ClassName() string
}

type Factory func() Message

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a message class known to the decoders. It panics when the
// class is registered twice.
func Register(class string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		panic("message: Register factory is nil")
	}
	if _, dup := factories[class]; dup {
		panic("message: Register called twice for class " + class)
	}
	factories[class] = f
}

// New creates an empty message of the given class.
func New(class string) (Message, error) {
	mu.RLock()
	f, ok := factories[class]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	return f(), nil
}

// Classes returns the registered class names in sorted order.
func Classes() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(ClassText, func() Message { return &Text{} })
	Register(ClassGeneric, func() Message { return &Generic{} })
	Register(ClassNotification, func() Message { return &Notification{} })
}
