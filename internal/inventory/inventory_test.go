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

package inventory

import "testing"

func TestDisksFromDevices(t *testing.T) {
	devices := []lsblkDevice{
		{Path: "/dev/sda", Type: "disk", Size: 1000, Removable: false},
		{Path: "/dev/sda1", Type: "part", Size: 100, PartN: 1, FSType: "vfat"},
		{Path: "/dev/sda2", Type: "part", Size: 900, PartN: 2, FSType: "ext4"},
		{Path: "/dev/sdb", Type: "disk", Size: 2000, Removable: true},
	}

	disks := disksFromDevices(devices)
	if len(disks) != 2 {
		t.Fatalf("got %d disks, want 2", len(disks))
	}
	if disks[0].Path != "/dev/sda" || len(disks[0].Partitions) != 2 {
		t.Fatalf("unexpected sda disk: %+v", disks[0])
	}
	if disks[0].Partitions[0].PartitionNumber != 1 {
		t.Fatalf("got partition number %d, want 1", disks[0].Partitions[0].PartitionNumber)
	}
	if disks[1].Path != "/dev/sdb" || len(disks[1].Partitions) != 0 {
		t.Fatalf("unexpected sdb disk: %+v", disks[1])
	}
}

func TestPartitionFromDevice(t *testing.T) {
	d := lsblkDevice{
		Path: "/dev/sda1", Type: "part", Size: 100, PartN: 1,
		PartUUID: "uuid-1", FSType: "ext4", FSLabel: "root", Mountpoint: "/mnt/root",
	}
	p := partitionFromDevice(d)
	if p.PartitionNumber != 1 || p.FSLabel != "root" || !p.Mounted() {
		t.Fatalf("got %+v", p)
	}
}

func TestTranslateLsblkErrorUnknownColumn(t *testing.T) {
	err := translateLsblkError("lsblk: unknown column: bogus", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestTranslateLsblkErrorUnknownDevice(t *testing.T) {
	err := translateLsblkError("lsblk: /dev/nope: not a block device", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}
