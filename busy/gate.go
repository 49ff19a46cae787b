// Vmdesk - A utility to manage QEMU and native-hypervisor virtual machine configurations.
// Copyright (c) 2023 The Vmdesk Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package busy implements the single-slot operation gate that serializes
// mutating work on the machine library. At most one operation is in flight
// at a time. Callers observe progress through the returned Task or by
// subscribing to state snapshots.
package busy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

var ErrBusy = errors.New("another operation is in progress")

type State int

const (
	StateIdle State = iota
	StatePending
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a point-in-time view of the gate.
type Snapshot struct {
	State     State
	Operation string // Name of the pending or last finished operation.
	Err       error  // Set in StateFailed.
}

type Task struct {
	name string
	done chan struct{}
	err  error
}

func (t *Task) Name() string {
	return t.name
}

// Done is closed once the operation has finished and the gate has left
// the pending state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the operation result. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}

type Gate struct {
	logger *slog.Logger
	ctx    context.Context

	mu      sync.Mutex
	state   State
	op      string
	lastErr error

	subs    map[int]chan Snapshot
	nextSub int

	wg sync.WaitGroup
}

// NewGate creates an idle gate. Work submitted to the gate receives ctx;
// canceling it is the only way in-flight work gets interrupted.
func NewGate(ctx context.Context, logger *slog.Logger) *Gate {
	return &Gate{
		logger: logger,
		ctx:    ctx,
		subs:   make(map[int]chan Snapshot),
	}
}

// Go starts fn unless another operation is pending, in which case ErrBusy
// is returned and fn is never called.
func (g *Gate) Go(name string, fn func(ctx context.Context) error) (*Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StatePending {
		return nil, errors.Wrapf(ErrBusy, "start '%v' while '%v' is pending", name, g.op)
	}

	if err := g.ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "gate context done")
	}

	t := &Task{
		name: name,
		done: make(chan struct{}),
	}

	g.state = StatePending
	g.op = name
	g.publishLocked()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		err := g.run(name, fn)

		g.mu.Lock()
		if err != nil {
			g.state = StateFailed
			g.lastErr = err
			g.logger.Debug("Operation failed", "operation", name, "error", err.Error())
		} else {
			g.state = StateIdle
			g.lastErr = nil
		}
		g.publishLocked()
		g.mu.Unlock()

		t.err = err
		close(t.done)
	}()

	return t, nil
}

func (g *Gate) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation '%v' panicked: %v", name, r)
		}
	}()

	return fn(g.ctx)
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

func (g *Gate) Busy() bool {
	return g.State() == StatePending
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.snapshotLocked()
}

// Reset acknowledges a failure and returns the gate to idle. It is a no-op
// in any other state.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateFailed {
		return
	}

	g.state = StateIdle
	g.lastErr = nil
	g.publishLocked()
}

// Subscribe returns a channel receiving the current snapshot followed by
// every state change. Slow readers only see the latest snapshot.
func (g *Gate) Subscribe() (<-chan Snapshot, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- g.snapshotLocked()

	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch

	return ch, func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		delete(g.subs, id)
	}
}

// Wait blocks until the in-flight operation, if any, has finished.
func (g *Gate) Wait() {
	g.wg.Wait()
}

func (g *Gate) snapshotLocked() Snapshot {
	return Snapshot{
		State:     g.state,
		Operation: g.op,
		Err:       g.lastErr,
	}
}

func (g *Gate) publishLocked() {
	snap := g.snapshotLocked()

	for _, ch := range g.subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot in favor of the new one.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
