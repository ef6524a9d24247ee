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

package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"netprov/internal/exectool"
	"netprov/internal/progress"
	"netprov/pkg/netprov"
)

// mountImageReadOnly mounts an image's best available copy at a fresh
// temp directory and returns it, mirroring mount_image in the original
// client.
func mountImageReadOnly(ctx context.Context, img *netprov.Image) (string, error) {
	if !img.Available() {
		return "", netprov.Errorf(netprov.ResolutionError, "image %q is not available in any repo", img.Name)
	}
	mountDir, err := os.MkdirTemp("", "netprov-image-*")
	if err != nil {
		return "", netprov.NewError(netprov.IOError, err)
	}
	mount := exectool.Mount(img.BestPath(), mountDir)
	mount.Args = append([]string{"-o", "ro"}, mount.Args...)
	if err := mount.Run(ctx, nil); err != nil {
		os.Remove(mountDir)
		return "", netprov.NewError(netprov.ExternalError, err)
	}
	return mountDir, nil
}

// unmountImage unmounts and removes a temp mount directory created by
// mountImageReadOnly, tolerating a directory that is already gone the
// way unmount_image does.
func unmountImage(ctx context.Context, mountPath string) error {
	if _, err := os.Stat(mountPath); os.IsNotExist(err) {
		return nil
	}
	if err := exectool.Umount(mountPath, false).Run(ctx, nil); err != nil {
		return netprov.NewError(netprov.ExternalError, err)
	}
	return os.Remove(mountPath)
}

func (e *Executor) executeDeploy(ctx context.Context, op *netprov.Operation) error {
	if op.Target.Mounted() {
		if err := e.inv.Unmount(ctx, op.Target, false); err != nil {
			return netprov.NewError(netprov.ExternalError, err)
		}
	}

	e.logf("deploying %s to %s", op.Image.Name, op.Target.Path)
	mountPath, err := mountImageReadOnly(ctx, op.Image)
	if err != nil {
		return err
	}
	defer unmountImage(ctx, mountPath)

	partsFile := filepath.Join(mountPath, "parts")
	raw, err := os.ReadFile(partsFile)
	if err != nil {
		return netprov.Errorf(netprov.IntegrityError, "image %q has no parts definition, it may be corrupted", op.Image.Name)
	}

	var allParts []string
	for _, p := range strings.Fields(string(raw)) {
		if p != "" {
			allParts = append(allParts, p)
		}
	}
	if len(allParts) == 0 {
		return netprov.Errorf(netprov.IntegrityError, "image %q does not contain any restorable partitions", op.Image.Name)
	}
	if len(allParts) > 1 && op.ImageVolume == "" {
		return netprov.Errorf(netprov.ResolutionError, "image %q contains multiple partitions, a source partition must be named", op.Image.Name)
	}

	sourcePart := op.ImageVolume
	if sourcePart == "" {
		sourcePart = allParts[0]
	} else if !contains(allParts, sourcePart) {
		return netprov.Errorf(netprov.ResolutionError, "image %q does not contain a partition called %q", op.Image.Name, sourcePart)
	}

	sourceDir := filepath.Base(mountPath)
	rootDir := filepath.Dir(mountPath)
	targetDevice := filepath.Base(op.Target.Path)

	cmd := exectool.OcsSrRestoreParts(rootDir, sourcePart, sourceDir, targetDevice)
	err = cmd.Run(ctx, func(stream exectool.Stream, line string) {
		clean := progress.Clean(line)
		if update, ok := progress.Parse(clean); ok {
			e.logf("deploying %s: %.1f%% complete, %.1f GB/min, remaining %s",
				op.Image.Name, update.CompletedPct, update.RateGBPerMin, update.Remaining)
			return
		}
		e.logf("ocs-sr: %s", clean)
	})
	if err != nil {
		return netprov.NewError(netprov.ExternalError, err)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
