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

package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestStartAndFinishRunSucceeded(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	runID, runUUID, err := j.StartRun(ctx, "base")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if runUUID == "" {
		t.Fatalf("expected non-empty run UUID")
	}
	if err := j.FinishRun(ctx, runID, "succeeded", nil, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := j.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != "succeeded" || runs[0].FinishedAt == nil {
		t.Fatalf("got %+v", runs[0])
	}
	if runs[0].UUID != runUUID {
		t.Fatalf("expected persisted UUID %q, got %q", runUUID, runs[0].UUID)
	}
}

func TestFinishRunFailedRecordsStepAndError(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	runID, _, err := j.StartRun(ctx, "data")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	failedStep := 2
	runErr := errors.New("mount failed")
	if err := j.FinishRun(ctx, runID, "failed", &failedStep, runErr); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := j.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if runs[0].FailedStep == nil || *runs[0].FailedStep != 2 {
		t.Fatalf("expected failed step 2, got %+v", runs[0].FailedStep)
	}
	if runs[0].Error != "mount failed" {
		t.Fatalf("got error %q", runs[0].Error)
	}
}

func TestAppendStepAndStepsForRun(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	runID, _, err := j.StartRun(ctx, "base")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := j.AppendStep(ctx, StepRecord{RunID: runID, StepIndex: 0, Kind: "pull", Detail: "base.img", Status: "ok"}); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}
	if err := j.AppendStep(ctx, StepRecord{RunID: runID, StepIndex: 1, Kind: "deploy", Detail: "base.img -> root", Status: "error", Error: "ocs-sr exited 1"}); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}

	steps, err := j.StepsForRun(ctx, runID)
	if err != nil {
		t.Fatalf("StepsForRun: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[1].Status != "error" || steps[1].Error != "ocs-sr exited 1" {
		t.Fatalf("got %+v", steps[1])
	}
}

func TestRecentRunsOrdersNewestFirst(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	first, _, err := j.StartRun(ctx, "first")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := j.FinishRun(ctx, first, "succeeded", nil, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	second, _, err := j.StartRun(ctx, "second")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := j.FinishRun(ctx, second, "succeeded", nil, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := j.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RecipeName != "second" {
		t.Fatalf("expected newest-first ordering, got %+v", runs)
	}
}
