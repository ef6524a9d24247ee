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

package netprov

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by where in the pipeline it
// originated, so callers (and the run journal) can react to a class of
// problem rather than pattern-match error text.
type ErrorKind string

const (
	ConfigError     ErrorKind = "config"
	ParseError      ErrorKind = "parse"
	ResolutionError ErrorKind = "resolution"
	ResourceError   ErrorKind = "resource"
	IntegrityError  ErrorKind = "integrity"
	ExternalError   ErrorKind = "external"
	IOError         ErrorKind = "io"
)

// Error wraps a failure with the kind of problem it represents.
type Error struct {
	Kind ErrorKind
	Err  error
}

// NewError wraps err with kind. If err is nil, NewError returns nil.
func NewError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf builds an Error from a format string the way fmt.Errorf does.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the ErrorKind carried by err, and whether err (or
// something it wraps) is a *Error at all.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
