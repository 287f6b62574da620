// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package tcp is the concrete transport.Listener/Dialer/Context
// implementation built on net.Conn, gob framing and one progress
// goroutine per connection, per spec §4.4.
package tcp

import "github.com/splitfuse/core/wire"

type frameKind uint8

const (
	frameRequest frameKind = iota
	frameReply
	frameBulkData
	frameBulkRequest
	frameError
)

// frame is the single envelope type multiplexed over one net.Conn. Every
// gob.Encoder.Encode call on the wire writes exactly one frame, and gob
// streams are self-describing, so frames need no explicit length
// prefix.
type frame struct {
	ID   uint64
	Op   wire.Op
	Kind frameKind
	Body []byte // wire-encoded request/reply body, or raw bulk bytes
	Err  string // set when Kind == frameError
}
