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

package tcp

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/splitfuse/core/internal/logger"
	"github.com/splitfuse/core/transport"
	"github.com/splitfuse/core/wire"
)

// Dialer creates outbound contexts from a client projection to one or
// more IONSS ranks.
type Dialer struct {
	nextRank atomic.Uint32
}

func NewDialer() *Dialer { return &Dialer{} }

// Dial connects to addr and starts its progress goroutine in the
// background, returning once the TCP handshake completes. The returned
// Context has no registered handlers: a pure client never serves
// inbound requests, only the eviction callback path if the peer hangs
// up.
func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Context, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}

	rank := transport.Rank(d.nextRank.Add(1))
	s := newSession(conn, rank, nil)

	go func() {
		if err := s.progress(context.Background()); err != nil {
			logger.CtxWarnf(context.Background(), "tcp: connection to %s lost: %v", addr, err)
		}
	}()

	return s, nil
}
