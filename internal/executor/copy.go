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
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"netprov/internal/exectool"
	"netprov/pkg/netprov"
)

// withMountedVolume mounts target at a fresh temp directory, runs fn
// with the mount path, then always unmounts it, matching the
// mount/try/finally shape of CopyOperation and UnpackOperation in the
// original client. The temp directory is removed after a successful
// unmount; if the unmount fails, a warning is logged and the directory
// is left in place.
func (e *Executor) withMountedVolume(ctx context.Context, target *netprov.Partition, fn func(mountPath string) error) error {
	mountPath, err := os.MkdirTemp("", "netprov-volume-*")
	if err != nil {
		return netprov.NewError(netprov.IOError, err)
	}
	e.logf("mounting %s at %s", target.Path, mountPath)
	if err := exectool.Mount(target.Path, mountPath).Run(ctx, nil); err != nil {
		os.Remove(mountPath)
		return netprov.NewError(netprov.ExternalError, err)
	}

	fnErr := fn(mountPath)

	if err := exectool.Umount(mountPath, false).Run(ctx, nil); err != nil {
		e.logf("WARNING: failed to unmount %s: %v", mountPath, err)
	} else {
		os.Remove(mountPath)
	}
	return fnErr
}

// resolveDestination joins destPath (a path within a mounted volume,
// leading slash optional) onto mountPath, and verifies the destination
// directory already exists.
func resolveDestination(mountPath, destPath string) (string, error) {
	relative := strings.TrimPrefix(destPath, "/")
	destination := filepath.Join(mountPath, relative)
	dir := filepath.Dir(destination)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", netprov.Errorf(netprov.ResolutionError, "path %q does not exist in the target volume", filepath.Dir("/"+relative))
	}
	return destination, nil
}

func (e *Executor) executeCopy(ctx context.Context, op *netprov.Operation) error {
	if !op.Image.Available() {
		return netprov.Errorf(netprov.ResolutionError, "image %q is not available", op.Image.Name)
	}
	return e.withMountedVolume(ctx, op.Target, func(mountPath string) error {
		destination, err := resolveDestination(mountPath, op.Path)
		if err != nil {
			return err
		}
		e.logf("copying %s to %s", op.Image.Name, destination)
		return copyFile(op.Image.BestPath(), destination)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return netprov.NewError(netprov.IOError, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return netprov.NewError(netprov.IOError, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return netprov.NewError(netprov.IOError, err)
	}
	return nil
}

func (e *Executor) executeUnpack(ctx context.Context, op *netprov.Operation) error {
	if !op.Image.Available() {
		return netprov.Errorf(netprov.ResolutionError, "image %q is not available", op.Image.Name)
	}
	return e.withMountedVolume(ctx, op.Target, func(mountPath string) error {
		destination, err := resolveDestination(mountPath, op.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(destination, 0755); err != nil {
			return netprov.NewError(netprov.IOError, err)
		}
		e.logf("unpacking %s to %s", op.Image.Name, destination)
		return unpackArchive(op.Image.BestPath(), destination)
	})
}

// unpackArchive extracts a zip, tar, tar.gz, or tar.bz2 archive,
// mirroring the format set shutil.unpack_archive supports in the
// original client.
func unpackArchive(src, destDir string) error {
	switch {
	case strings.HasSuffix(src, ".zip"):
		return unpackZip(src, destDir)
	case strings.HasSuffix(src, ".tar.gz") || strings.HasSuffix(src, ".tgz"):
		return unpackTar(src, destDir, gzipReader)
	case strings.HasSuffix(src, ".tar.bz2"):
		return unpackTar(src, destDir, bzip2Reader)
	case strings.HasSuffix(src, ".tar"):
		return unpackTar(src, destDir, plainReader)
	default:
		return netprov.Errorf(netprov.ResolutionError, "unsupported archive format for %q", src)
	}
}

func plainReader(r io.Reader) (io.Reader, error) { return r, nil }

func gzipReader(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }

func bzip2Reader(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil }

func unpackTar(src, destDir string, decompress func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(src)
	if err != nil {
		return netprov.NewError(netprov.IOError, err)
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return netprov.NewError(netprov.IOError, err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return netprov.NewError(netprov.IOError, err)
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return netprov.NewError(netprov.IOError, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return netprov.NewError(netprov.IOError, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return netprov.NewError(netprov.IOError, err)
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return netprov.NewError(netprov.IOError, err)
			}
		}
	}
}

func unpackZip(src, destDir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return netprov.NewError(netprov.IOError, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return netprov.NewError(netprov.IOError, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return netprov.NewError(netprov.IOError, err)
		}
		rc, err := f.Open()
		if err != nil {
			return netprov.NewError(netprov.IOError, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
		if err != nil {
			rc.Close()
			return netprov.NewError(netprov.IOError, err)
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return netprov.NewError(netprov.IOError, err)
		}
	}
	return nil
}
