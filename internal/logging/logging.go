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

// Package logging prints color-coded status lines to the console and,
// when a journal is attached, records the same events as run steps so
// they survive after the process exits.
package logging

import (
	"context"
	"fmt"
	"log"

	"github.com/fatih/color"

	"netprov/internal/journal"
)

// Level tags the severity of a logged event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelColor = map[Level]*color.Color{
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// Logger prints step events to an underlying *log.Logger with a
// colored level prefix, and optionally mirrors them into a run
// journal as StepRecords.
type Logger struct {
	out     *log.Logger
	journal *journal.Journal
	runID   int64
	runUUID string
	step    int
}

// New creates a Logger writing to out. Journal may be nil to disable
// persistence.
func New(out *log.Logger, j *journal.Journal) *Logger {
	return &Logger{out: out, journal: j}
}

// BeginRun starts a new journal run (if a journal is attached) and
// resets the step counter, returning the new run ID (0 if no journal).
// When a journal is attached, it also logs the run's UUID so an
// operator can correlate this console session with a journal entry.
func (l *Logger) BeginRun(ctx context.Context, recipeName string) (int64, error) {
	l.step = 0
	if l.journal == nil {
		return 0, nil
	}
	runID, runUUID, err := l.journal.StartRun(ctx, recipeName)
	if err != nil {
		return 0, err
	}
	l.runID = runID
	l.runUUID = runUUID
	l.Info("run %s started (id=%d)", runUUID, runID)
	return runID, nil
}

// EndRun finalizes the current run, if a journal is attached.
func (l *Logger) EndRun(ctx context.Context, status string, failedStep *int, runErr error) error {
	if l.journal == nil {
		return nil
	}
	return l.journal.FinishRun(ctx, l.runID, status, failedStep, runErr)
}

func colorize(level Level, msg string) string {
	c, ok := levelColor[level]
	if !ok {
		return msg
	}
	return c.Sprintf("[%s] %s", level, msg)
}

func (l *Logger) print(level Level, msg string) {
	if l.out != nil {
		l.out.Print(colorize(level, msg))
	}
}

// Info logs an informational line.
func (l *Logger) Info(format string, args ...any) {
	l.print(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn logs a warning line.
func (l *Logger) Warn(format string, args ...any) {
	l.print(LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs an error line.
func (l *Logger) Error(format string, args ...any) {
	l.print(LevelError, fmt.Sprintf(format, args...))
}

// Step logs the outcome of one executed operation and, when a journal
// is attached, records it as a StepRecord under the current run.
func (l *Logger) Step(ctx context.Context, kind, detail string, stepErr error) {
	status := "ok"
	level := LevelInfo
	errText := ""
	if stepErr != nil {
		status = "error"
		level = LevelError
		errText = stepErr.Error()
	}
	l.print(level, fmt.Sprintf("%s: %s (%s)", kind, detail, status))

	if l.journal == nil {
		return
	}
	idx := l.step
	l.step++
	if err := l.journal.AppendStep(ctx, journal.StepRecord{
		RunID:     l.runID,
		StepIndex: idx,
		Kind:      kind,
		Detail:    detail,
		Status:    status,
		Error:     errText,
	}); err != nil {
		l.print(LevelWarn, fmt.Sprintf("journal: failed to record step: %v", err))
	}
}
