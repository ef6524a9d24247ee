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

// Package inventory enumerates block devices with lsblk and exposes
// mutating operations (mount, unmount, relabel) on the partitions it
// finds. Snapshots are memoized in an LRU cache keyed by the device
// path queried, invalidated whenever a mutating operation runs against
// a device covered by the cache.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"netprov/internal/exectool"
	"netprov/pkg/netprov"
)

var columns = []string{"size", "rm", "partn", "partuuid", "uuid", "fstype", "partlabel", "label", "mountpoint"}

var (
	errUnknownColumn = regexp.MustCompile(`lsblk: unknown column: (.*)`)
	errUnknownDevice = regexp.MustCompile(`lsblk: (.*): not a block device`)
)

type lsblkDevice struct {
	Path       string `json:"path"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	Removable  bool   `json:"rm"`
	PartN      int    `json:"partn"`
	PartUUID   string `json:"partuuid"`
	FSUUID     string `json:"uuid"`
	FSType     string `json:"fstype"`
	PartLabel  string `json:"partlabel"`
	FSLabel    string `json:"label"`
	Mountpoint string `json:"mountpoint"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// Inventory enumerates and mutates block devices. An Inventory is safe
// for use by a single recipe run; it is not shared across concurrent
// recipes because the executor runs strictly one recipe at a time.
type Inventory struct {
	cache *lru.Cache[string, []lsblkDevice]
}

// New creates an Inventory whose full-system snapshots are memoized up
// to size entries. A size of 0 disables memoization.
func New(size int) (*Inventory, error) {
	if size <= 0 {
		return &Inventory{}, nil
	}
	c, err := lru.New[string, []lsblkDevice](size)
	if err != nil {
		return nil, fmt.Errorf("inventory: create cache: %w", err)
	}
	return &Inventory{cache: c}, nil
}

// the cache key used for a whole-system enumeration (device == "").
const allDevicesKey = "*"

// Disks returns every disk on the system, each with its partitions
// populated, mirroring Disk.get_all in the original client.
func (inv *Inventory) Disks(ctx context.Context) ([]*netprov.Disk, error) {
	devices, err := inv.query(ctx, allDevicesKey, "")
	if err != nil {
		return nil, err
	}
	return disksFromDevices(devices), nil
}

// Disk returns the single disk at path, with its partitions populated.
func (inv *Inventory) Disk(ctx context.Context, path string) (*netprov.Disk, error) {
	devices, err := inv.query(ctx, path, path)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Path == path {
			if d.Type != "disk" {
				return nil, fmt.Errorf("inventory: %s is not a disk", path)
			}
			return diskFromDevice(d, devices), nil
		}
	}
	return nil, fmt.Errorf("inventory: could not find device info for %s", path)
}

// Partition returns the single partition at path.
func (inv *Inventory) Partition(ctx context.Context, path string) (*netprov.Partition, error) {
	devices, err := inv.query(ctx, path, path)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Path == path {
			if d.Type != "part" {
				return nil, fmt.Errorf("inventory: %s is not a partition", path)
			}
			return partitionFromDevice(d), nil
		}
	}
	return nil, fmt.Errorf("inventory: could not find device info for %s", path)
}

func (inv *Inventory) query(ctx context.Context, key, device string) ([]lsblkDevice, error) {
	if inv.cache != nil {
		if cached, ok := inv.cache.Get(key); ok {
			return cached, nil
		}
	}

	cmd := exectool.Lsblk(columns, device)
	out, err := cmd.Output(ctx)
	if err != nil {
		return nil, translateLsblkError(out, err)
	}

	var parsed lsblkOutput
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("inventory: decode lsblk output: %w", err)
	}
	if parsed.BlockDevices == nil {
		return nil, fmt.Errorf("inventory: lsblk returned no block devices")
	}

	if inv.cache != nil {
		inv.cache.Add(key, parsed.BlockDevices)
	}
	return parsed.BlockDevices, nil
}

// Invalidate drops every memoized snapshot. Call it after any mutating
// operation (mount, umount, relabel) so the next query reflects reality.
func (inv *Inventory) Invalidate() {
	if inv.cache != nil {
		inv.cache.Purge()
	}
}

func translateLsblkError(output string, cause error) error {
	if m := errUnknownColumn.FindStringSubmatch(output); m != nil {
		return fmt.Errorf("inventory: unknown lsblk column %q: %w", m[1], cause)
	}
	if m := errUnknownDevice.FindStringSubmatch(output); m != nil {
		return fmt.Errorf("inventory: unknown device %q: %w", m[1], cause)
	}
	return fmt.Errorf("inventory: lsblk failed: %w", cause)
}

func disksFromDevices(devices []lsblkDevice) []*netprov.Disk {
	var disks []*netprov.Disk
	for _, d := range devices {
		if d.Type != "disk" {
			continue
		}
		disks = append(disks, diskFromDevice(d, devices))
	}
	return disks
}

func diskFromDevice(disk lsblkDevice, all []lsblkDevice) *netprov.Disk {
	out := &netprov.Disk{
		Path:      disk.Path,
		Size:      disk.Size,
		Removable: disk.Removable,
	}
	for _, d := range all {
		if d.Type != "part" || !strings.HasPrefix(d.Path, disk.Path) {
			continue
		}
		out.Partitions = append(out.Partitions, partitionFromDevice(d))
	}
	return out
}

func partitionFromDevice(d lsblkDevice) *netprov.Partition {
	return &netprov.Partition{
		Path:            d.Path,
		Size:            d.Size,
		Removable:       d.Removable,
		PartitionNumber: d.PartN,
		PartUUID:        d.PartUUID,
		FSUUID:          d.FSUUID,
		FSType:          d.FSType,
		PartLabel:       d.PartLabel,
		FSLabel:         d.FSLabel,
		Mountpoint:      d.Mountpoint,
	}
}
