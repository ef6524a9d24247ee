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

package exectool

import "fmt"

// Lsblk builds the lsblk invocation used by internal/inventory to dump
// the block-device tree as JSON. device may be empty to enumerate every
// disk on the system.
func Lsblk(columns []string, device string) Command {
	cols := ""
	for i, c := range columns {
		if i > 0 {
			cols += ","
		}
		cols += c
	}
	args := []string{"-o", cols, "-J", "-b", "-p", "-n"}
	if device != "" {
		args = append(args, device)
	}
	return Command{Program: "lsblk", Args: args, Description: "enumerate block devices"}
}

// Mount mounts device at mountpoint.
func Mount(device, mountpoint string) Command {
	return Command{
		Program:     "mount",
		Args:        []string{device, mountpoint},
		Description: fmt.Sprintf("mount %s at %s", device, mountpoint),
	}
}

// Umount unmounts target, which may be a device or a mountpoint. When
// force is set it passes --force.
func Umount(target string, force bool) Command {
	args := []string{}
	if force {
		args = append(args, "--force")
	}
	args = append(args, target)
	return Command{
		Program:     "umount",
		Args:        args,
		Description: fmt.Sprintf("unmount %s", target),
	}
}

// Mkdir creates a directory, including parents.
func Mkdir(path string) Command {
	return Command{
		Program:     "mkdir",
		Args:        []string{"-p", path},
		Description: fmt.Sprintf("create directory %s", path),
	}
}

// Rmdir removes an empty directory.
func Rmdir(path string) Command {
	return Command{
		Program:     "rmdir",
		Args:        []string{path},
		Description: fmt.Sprintf("remove directory %s", path),
	}
}

// E2label sets the ext2/3/4 filesystem label on device. An empty label
// clears it, matching Partition.set_fslabel in the original client.
func E2label(device, label string) Command {
	return Command{
		Program:     "e2label",
		Args:        []string{device, label},
		Description: fmt.Sprintf("set label on %s", device),
	}
}

// MkfsFormat builds the mkfs invocation for one of the supported
// filesystem types. It mirrors the format-command switch used to
// build a disk's partition layout, extended with the swap case.
func MkfsFormat(fstype, label, device string) (Command, error) {
	switch fstype {
	case "vfat":
		args := []string{"-F", "32"}
		if label != "" {
			args = append(args, "-n", label)
		}
		args = append(args, device)
		return Command{Program: "mkfs.vfat", Args: args, Description: fmt.Sprintf("create FAT filesystem on %s", device)}, nil
	case "ext4":
		args := []string{"-F"}
		if label != "" {
			args = append(args, "-L", label)
		}
		args = append(args, device)
		return Command{Program: "mkfs.ext4", Args: args, Description: fmt.Sprintf("create ext4 filesystem on %s", device)}, nil
	case "xfs":
		args := []string{"-f"}
		if label != "" {
			args = append(args, "-L", label)
		}
		args = append(args, device)
		return Command{Program: "mkfs.xfs", Args: args, Description: fmt.Sprintf("create XFS filesystem on %s", device)}, nil
	case "btrfs":
		args := []string{"-f"}
		if label != "" {
			args = append(args, "-L", label)
		}
		args = append(args, device)
		return Command{Program: "mkfs.btrfs", Args: args, Description: fmt.Sprintf("create Btrfs filesystem on %s", device)}, nil
	case "swap":
		var args []string
		if label != "" {
			args = append(args, "-L", label)
		}
		args = append(args, device)
		return Command{Program: "mkswap", Args: args, Description: fmt.Sprintf("create swap area on %s", device)}, nil
	default:
		return Command{}, fmt.Errorf("exectool: unsupported filesystem type %q", fstype)
	}
}

// OcsSrRestoreParts builds the ocs-sr invocation used to deploy a
// single image partition onto a target device. sourceDir/rootDir split
// an image mountpoint the same way the original client derives them
// from the temp dir it mounted the image at.
func OcsSrRestoreParts(rootDir, sourcePart, sourceDir, targetDevice string) Command {
	return Command{
		Program: "/usr/sbin/ocs-sr",
		Args: []string{
			"-e1", "auto", "-e2", "-t", "-r", "-k", "-scr", "-nogui",
			"-or", rootDir, "-f", sourcePart, "restoreparts", sourceDir, targetDevice,
		},
		Description: fmt.Sprintf("restore %s onto %s", sourcePart, targetDevice),
	}
}
