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

import "testing"

func TestPartitionMounted(t *testing.T) {
	var p *Partition
	if p.Mounted() {
		t.Fatalf("nil partition should not report mounted")
	}
	p = &Partition{}
	if p.Mounted() {
		t.Fatalf("empty mountpoint should not report mounted")
	}
	p.Mountpoint = "/mnt/cache"
	if !p.Mounted() {
		t.Fatalf("expected mounted")
	}
}

func TestVolumeIsAvailable(t *testing.T) {
	var v *Volume
	if v.IsAvailable() {
		t.Fatalf("nil volume should not be available")
	}
	v = &Volume{Name: "root"}
	if v.IsAvailable() {
		t.Fatalf("volume with no target should not be available")
	}
	v.Target = &Partition{Path: "/dev/sda2"}
	if !v.IsAvailable() {
		t.Fatalf("expected available")
	}
}

func TestImageBestPathPrefersLocal(t *testing.T) {
	img := &Image{RemotePath: "repo/base.img", RemoteHash: "abc"}
	if got := img.BestPath(); got != "repo/base.img" {
		t.Fatalf("got %q", got)
	}
	img.LocalPath = "/cache/base.img"
	img.LocalHash = "abc"
	if got := img.BestPath(); got != "/cache/base.img" {
		t.Fatalf("got %q", got)
	}
}

func TestImageOutdated(t *testing.T) {
	img := &Image{LocalPath: "/cache/base.img", LocalHash: "old", RemotePath: "repo/base.img", RemoteHash: "new"}
	if !img.Outdated() {
		t.Fatalf("expected outdated image")
	}
	img.LocalHash = "new"
	if img.Outdated() {
		t.Fatalf("expected up-to-date image")
	}
}

func TestImageAvailable(t *testing.T) {
	img := &Image{}
	if img.Available() {
		t.Fatalf("empty image should not be available")
	}
	img.LocalPath = "/cache/base.img"
	if !img.Available() {
		t.Fatalf("expected available with local path")
	}
}
