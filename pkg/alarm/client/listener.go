// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
)

// Listener is notified about changes of the replicated tree.
//
// All calls happen on the goroutine of the client loop, one at a time.
// Implementations must return quickly and hand expensive work to their
// own goroutine. The nodes passed in are live: read them, but do not keep
// or modify them beyond the next notification.
type Listener interface {
	// ItemAdded is called for every node that appears in the tree.
	ItemAdded(item *model.Node)
	// ItemRemoved is called after item has been detached from the tree.
	ItemRemoved(item *model.Node)
	// ItemUpdated is called once per record that changed the item.
	ItemUpdated(item *model.Node)
	// ConnectionStateChanged reports whether the alarm server is alive.
	ConnectionStateChanged(alive bool)
}

// ModeListener is implemented by listeners that also care about the
// server-wide modes.
type ModeListener interface {
	ServerModeChanged(maintenance bool)
	DisableNotifyChanged(disableNotify bool)
}

// ListenerFuncs adapts plain functions to Listener and ModeListener.
// Nil functions are skipped.
type ListenerFuncs struct {
	OnItemAdded              func(item *model.Node)
	OnItemRemoved            func(item *model.Node)
	OnItemUpdated            func(item *model.Node)
	OnConnectionStateChanged func(alive bool)
	OnServerModeChanged      func(maintenance bool)
	OnDisableNotifyChanged   func(disableNotify bool)
}

var (
	_ Listener     = (*ListenerFuncs)(nil)
	_ ModeListener = (*ListenerFuncs)(nil)
)

func (f *ListenerFuncs) ItemAdded(item *model.Node) {
	if f.OnItemAdded != nil {
		f.OnItemAdded(item)
	}
}

func (f *ListenerFuncs) ItemRemoved(item *model.Node) {
	if f.OnItemRemoved != nil {
		f.OnItemRemoved(item)
	}
}

func (f *ListenerFuncs) ItemUpdated(item *model.Node) {
	if f.OnItemUpdated != nil {
		f.OnItemUpdated(item)
	}
}

func (f *ListenerFuncs) ConnectionStateChanged(alive bool) {
	if f.OnConnectionStateChanged != nil {
		f.OnConnectionStateChanged(alive)
	}
}

func (f *ListenerFuncs) ServerModeChanged(maintenance bool) {
	if f.OnServerModeChanged != nil {
		f.OnServerModeChanged(maintenance)
	}
}

func (f *ListenerFuncs) DisableNotifyChanged(disableNotify bool) {
	if f.OnDisableNotifyChanged != nil {
		f.OnDisableNotifyChanged(disableNotify)
	}
}
