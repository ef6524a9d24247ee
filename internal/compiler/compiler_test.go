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

package compiler

import (
	"testing"

	"netprov/internal/recipe"
	"netprov/internal/volumes"
	"netprov/pkg/netprov"
)

type fakeImages struct {
	images map[string]*netprov.Image
}

func (f *fakeImages) Get(name string) (*netprov.Image, bool) {
	img, ok := f.images[name]
	return img, ok
}

func testVolumes() *volumes.Manager {
	disk := &netprov.Disk{
		Path: "/dev/sda",
		Partitions: []*netprov.Partition{
			{Path: "/dev/sda1", PartitionNumber: 1},
			{Path: "/dev/sda2", PartitionNumber: 2},
		},
	}
	mgr := volumes.NewManager(disk, nil)
	_ = mgr.Sync("volumes:\n  root:\n    index: 1\n  data:\n    index: 2\n")
	return mgr
}

func TestCompileDeploy(t *testing.T) {
	r, err := recipe.Parse(`DEPLOY base.img TO root`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	images := &fakeImages{images: map[string]*netprov.Image{
		"base.img": {Name: "base.img", LocalPath: "/cache/base.img", LocalHash: "abc"},
	}}
	ops, err := Compile(r, images, testVolumes(), SupportedFilesystems())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(ops) != 1 || ops[0].Kind != netprov.OpDeploy || ops[0].Target.Path != "/dev/sda1" {
		t.Fatalf("got %+v", ops)
	}
}

func TestCompileRejectsUnavailableImage(t *testing.T) {
	r, err := recipe.Parse(`DEPLOY ghost.img TO root`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	images := &fakeImages{images: map[string]*netprov.Image{}}
	if _, err := Compile(r, images, testVolumes(), SupportedFilesystems()); err == nil {
		t.Fatalf("expected error for unavailable image")
	}
}

func TestCompileRejectsUndefinedVolume(t *testing.T) {
	r, err := recipe.Parse(`DEPLOY base.img TO nonexistent`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	images := &fakeImages{images: map[string]*netprov.Image{
		"base.img": {Name: "base.img", LocalPath: "/cache/base.img"},
	}}
	if _, err := Compile(r, images, testVolumes(), SupportedFilesystems()); err == nil {
		t.Fatalf("expected error for undefined volume")
	}
}

func TestCompileFormatRejectsUnsupportedFilesystem(t *testing.T) {
	r, err := recipe.Parse(`FORMAT root zfs`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := Compile(r, &fakeImages{}, testVolumes(), SupportedFilesystems()); err == nil {
		t.Fatalf("expected error for unsupported filesystem")
	}
}

func TestCompileIsAllOrNothing(t *testing.T) {
	r, err := recipe.Parse("PULL base.img\nDEPLOY ghost.img TO root\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	images := &fakeImages{images: map[string]*netprov.Image{
		"base.img": {Name: "base.img", LocalPath: "/cache/base.img"},
	}}
	ops, err := Compile(r, images, testVolumes(), SupportedFilesystems())
	if err == nil {
		t.Fatalf("expected compile to fail")
	}
	if ops != nil {
		t.Fatalf("expected no partial operation list on failure, got %+v", ops)
	}
}

func TestCompileUnpackRejectsUnsupportedArchive(t *testing.T) {
	r, err := recipe.Parse(`UNPACK payload.rar TO data`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	images := &fakeImages{images: map[string]*netprov.Image{
		"payload.rar": {Name: "payload.rar", LocalPath: "/cache/payload.rar"},
	}}
	if _, err := Compile(r, images, testVolumes(), SupportedFilesystems()); err == nil {
		t.Fatalf("expected error for unsupported archive format")
	}
}
