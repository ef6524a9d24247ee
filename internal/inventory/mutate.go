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

import (
	"context"

	"netprov/internal/exectool"
	"netprov/pkg/netprov"
)

// Mount mounts part at mountpoint and invalidates memoized snapshots so
// later queries see the new mountpoint.
func (inv *Inventory) Mount(ctx context.Context, part *netprov.Partition, mountpoint string) error {
	if err := exectool.Mount(part.Path, mountpoint).Run(ctx, nil); err != nil {
		return err
	}
	part.Mountpoint = mountpoint
	inv.Invalidate()
	return nil
}

// Unmount unmounts part. It is a no-op when the partition has no
// recorded mountpoint and force is false, matching Partition.umount in
// the original client.
func (inv *Inventory) Unmount(ctx context.Context, part *netprov.Partition, force bool) error {
	if part.Mountpoint == "" && !force {
		return nil
	}
	target := part.Path
	if !force {
		target = part.Mountpoint
	}
	if err := exectool.Umount(target, force).Run(ctx, nil); err != nil {
		return err
	}
	part.Mountpoint = ""
	inv.Invalidate()
	return nil
}

// SetFSLabel sets part's filesystem label, clearing it when label is
// empty.
func (inv *Inventory) SetFSLabel(ctx context.Context, part *netprov.Partition, label string) error {
	if err := exectool.E2label(part.Path, label).Run(ctx, nil); err != nil {
		return err
	}
	part.FSLabel = label
	inv.Invalidate()
	return nil
}

// Format creates a new filesystem of the given type on part, then
// invalidates memoized snapshots since the partition's FSType and
// FSUUID both change underneath lsblk.
func (inv *Inventory) Format(ctx context.Context, part *netprov.Partition, fstype, label string) error {
	cmd, err := exectool.MkfsFormat(fstype, label, part.Path)
	if err != nil {
		return err
	}
	if err := cmd.Run(ctx, nil); err != nil {
		return err
	}
	part.FSType = fstype
	part.FSLabel = label
	inv.Invalidate()
	return nil
}
