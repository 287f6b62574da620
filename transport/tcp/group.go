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
	"sync"

	"github.com/splitfuse/core/transport"
)

// Group is the reference transport.Group implementation: a rank-keyed
// map of attached contexts, broadcast over with one goroutine per
// member so a single slow or dead peer doesn't stall the others.
type Group struct {
	mu      sync.RWMutex
	members map[transport.Rank]transport.Context
}

func NewGroup() *Group {
	return &Group{members: make(map[transport.Rank]transport.Context)}
}

func (g *Group) Attach(ctx transport.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[ctx.Rank()] = ctx
}

func (g *Group) Detach(ctx transport.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, ctx.Rank())
}

func (g *Group) Members() []transport.Rank {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ranks := make([]transport.Rank, 0, len(g.members))
	for r := range g.members {
		ranks = append(ranks, r)
	}
	return ranks
}

func (g *Group) Broadcast(ctx context.Context, fn func(transport.Context) error) []error {
	g.mu.RLock()
	targets := make([]transport.Context, 0, len(g.members))
	for _, c := range g.members {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, c := range targets {
		wg.Add(1)
		go func(i int, c transport.Context) {
			defer wg.Done()
			errs[i] = fn(c)
		}(i, c)
	}
	wg.Wait()
	return errs
}
