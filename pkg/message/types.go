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

package message

import "time"

const (
	ClassText         = "Text"
	ClassGeneric      = "Generic"
	ClassNotification = "Notification"
)

// Text is a plain string message. It is the only class that can travel as
// text/plain.
type Text struct {
	Content string `json:"content" bson:"content" xml:",chardata"`
}

func NewText(s string) *Text { return &Text{Content: s} }

func (*Text) ClassName() string { return ClassText }

type Attribute struct {
	Name  string `json:"name" bson:"name" xml:"name,attr"`
	Value string `json:"value" bson:"value" xml:",chardata"`
}

// Generic carries a kind, ordered attributes and an opaque body.
type Generic struct {
	Kind       string      `json:"kind" bson:"kind" xml:"kind,attr"`
	Attributes []Attribute `json:"attributes,omitempty" bson:"attributes,omitempty" xml:"attribute"`
	Body       []byte      `json:"body,omitempty" bson:"body,omitempty" xml:"body,omitempty"`
}

func (*Generic) ClassName() string { return ClassGeneric }

// Attr returns the first attribute with the given name.
func (g *Generic) Attr(name string) (string, bool) {
	for _, a := range g.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (g *Generic) SetAttr(name, value string) {
	for i := range g.Attributes {
		if g.Attributes[i].Name == name {
			g.Attributes[i].Value = value
			return
		}
	}
	g.Attributes = append(g.Attributes, Attribute{Name: name, Value: value})
}

type Operation string

const (
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpRemove Operation = "remove"
)

// Notification announces a change to an object identified by ObjectID below
// ParentID.
type Notification struct {
	Operation Operation `json:"operation" bson:"operation" xml:"operation,attr"`
	ParentID  string    `json:"parent_id" bson:"parent_id" xml:"parentID,attr"`
	ObjectID  string    `json:"object_id" bson:"object_id" xml:"objectID,attr"`
	Created   time.Time `json:"created" bson:"created" xml:"created"`
	Body      string    `json:"body,omitempty" bson:"body,omitempty" xml:"body,omitempty"`
}

func (*Notification) ClassName() string { return ClassNotification }
