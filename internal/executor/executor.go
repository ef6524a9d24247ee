// netprov is a network-booted bare-metal provisioning client.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package executor runs a compiled operation list one operation at a
// time, in order, driving the mounts, formats, deploys, copies and
// unpacks a recipe performs on the target partitions; image pulls and
// evictions are delegated to the cache package.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"netprov/internal/inventory"
	"netprov/pkg/netprov"
)

// Cache is the subset of *cache.Cache the executor needs to pull images.
type Cache interface {
	Pull(ctx context.Context, name string, disallowed map[string]bool, progress func(copied, total int64)) error
}

// Executor runs a compiled operation list sequentially, maintaining the
// live pull blacklist (the set of image names already pulled during
// this run) that later PULL operations consult before evicting
// anything from the cache.
type Executor struct {
	inv    *inventory.Inventory
	cache  Cache
	logger *log.Logger

	pulled map[string]bool
}

// New creates an Executor bound to the given inventory and cache.
func New(inv *inventory.Inventory, c Cache, logger *log.Logger) *Executor {
	return &Executor{inv: inv, cache: c, logger: logger, pulled: make(map[string]bool)}
}

// StepResult reports the outcome of executing a single operation.
type StepResult struct {
	Index     int
	Operation *netprov.Operation
	Err       error
	Duration  time.Duration
}

func (e *Executor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf("[executor] "+format, args...)
	}
}

// Execute runs every operation in order, invoking onStep after each one
// (success or failure). Execution stops at the first operation that
// returns a non-nil error, except PULL operations that fail only
// because the cache ran out of room: those log a warning and the
// executor continues with the operation after it, since the spec
// standardizes insufficient-cache-space as a warning at execution time
// and a fatal error everywhere else.
func (e *Executor) Execute(ctx context.Context, ops []*netprov.Operation, onStep func(StepResult)) error {
	for i, op := range ops {
		start := time.Now()
		err := e.executeOne(ctx, op)
		if onStep != nil {
			onStep(StepResult{Index: i, Operation: op, Err: err, Duration: time.Since(start)})
		}
		if err != nil {
			if op.Kind == netprov.OpPull && isInsufficientSpace(err) {
				e.logf("WARNING: skipping pull of %s: %v", op.Image.Name, err)
				continue
			}
			return fmt.Errorf("executor: operation %d (%s) failed: %w", i+1, op.Kind, err)
		}
	}
	return nil
}

func (e *Executor) executeOne(ctx context.Context, op *netprov.Operation) error {
	switch op.Kind {
	case netprov.OpPull:
		return e.executePull(ctx, op)
	case netprov.OpDeploy:
		return e.executeDeploy(ctx, op)
	case netprov.OpCopy:
		return e.executeCopy(ctx, op)
	case netprov.OpUnpack:
		return e.executeUnpack(ctx, op)
	case netprov.OpFormat:
		return e.executeFormat(ctx, op)
	default:
		return netprov.Errorf(netprov.ParseError, "unsupported operation kind %q", op.Kind)
	}
}

func (e *Executor) executePull(ctx context.Context, op *netprov.Operation) error {
	e.logf("pulling %s", op.Image.Name)
	err := e.cache.Pull(ctx, op.Image.Name, e.pulled, func(copied, total int64) {
		e.logf("pulling %s: %d/%d bytes", op.Image.Name, copied, total)
	})
	if err != nil {
		if _, ok := netprov.KindOf(err); ok {
			return err
		}
		return netprov.NewError(netprov.ExternalError, err)
	}
	e.pulled[op.Image.Name] = true
	return nil
}

func (e *Executor) executeFormat(ctx context.Context, op *netprov.Operation) error {
	e.logf("formatting %s as %s", op.Target.Path, op.FSType)
	if err := e.inv.Format(ctx, op.Target, op.FSType, ""); err != nil {
		return netprov.NewError(netprov.ExternalError, err)
	}
	return nil
}

func isInsufficientSpace(err error) bool {
	kind, ok := netprov.KindOf(err)
	return ok && kind == netprov.ResourceError
}
