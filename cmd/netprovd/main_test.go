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

package main

import (
	"testing"

	"netprov/pkg/netprov"
)

func TestDescribeOperation(t *testing.T) {
	deploy := &netprov.Operation{
		Kind:   netprov.OpDeploy,
		Image:  &netprov.Image{Name: "base.img"},
		Target: &netprov.Partition{Path: "/dev/sda1"},
	}
	if got := describeOperation(deploy); got != "base.img -> /dev/sda1" {
		t.Fatalf("got %q", got)
	}

	format := &netprov.Operation{
		Kind:   netprov.OpFormat,
		Target: &netprov.Partition{Path: "/dev/sda2"},
		FSType: "ext4",
	}
	if got := describeOperation(format); got != "/dev/sda2 as ext4" {
		t.Fatalf("got %q", got)
	}

	copyOp := &netprov.Operation{
		Kind:   netprov.OpCopy,
		Image:  &netprov.Image{Name: "payload.bin"},
		Target: &netprov.Partition{Path: "/dev/sda3"},
		Path:   "/etc/config",
	}
	if got := describeOperation(copyOp); got != "payload.bin -> /dev/sda3:/etc/config" {
		t.Fatalf("got %q", got)
	}
}

func TestTrimNewline(t *testing.T) {
	cases := map[string]string{
		"base\n":   "base",
		"base\r\n": "base",
		"base":     "base",
		"":         "",
	}
	for in, want := range cases {
		if got := trimNewline(in); got != want {
			t.Fatalf("trimNewline(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinNames(t *testing.T) {
	if got := joinNames(nil); got != "" {
		t.Fatalf("expected empty string for nil, got %q", got)
	}
	if got := joinNames([]string{"a"}); got != "a" {
		t.Fatalf("got %q", got)
	}
	if got := joinNames([]string{"a", "b", "c"}); got != "a, b, c" {
		t.Fatalf("got %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	if statusFor(nil) != "ok" {
		t.Fatalf("expected ok for nil error")
	}
	if statusFor(errBoom) != "error" {
		t.Fatalf("expected error for non-nil error")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
