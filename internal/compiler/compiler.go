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

// Package compiler lowers a parsed recipe's instructions into fully
// resolved operations. Compilation is all-or-nothing: every image and
// volume reference is checked up front, and nothing in the system is
// touched while compiling. A recipe that fails to compile never
// executes any of its instructions, including the ones that would have
// been valid.
package compiler

import (
	"netprov/internal/recipe"
	"netprov/internal/volumes"
	"netprov/pkg/netprov"
)

// ImageSource looks up an image by name. *cache.Cache satisfies this.
type ImageSource interface {
	Get(name string) (*netprov.Image, bool)
}

// Compile lowers every instruction in r into an Operation, resolving
// image and volume names against images and vols. It supports the same
// supported-filesystem set FORMAT instructions are checked against.
func Compile(r *recipe.Recipe, images ImageSource, vols *volumes.Manager, supportedFilesystems map[string]bool) ([]*netprov.Operation, error) {
	var ops []*netprov.Operation
	for i, inst := range r.Instructions {
		op, err := compileOne(inst, images, vols, supportedFilesystems)
		if err != nil {
			return nil, netprov.Errorf(kindFor(err), "instruction %d (line %d): %w", i+1, inst.Line, err)
		}
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func kindFor(err error) netprov.ErrorKind {
	if kind, ok := netprov.KindOf(err); ok {
		return kind
	}
	return netprov.ParseError
}

func compileOne(inst *netprov.Instruction, images ImageSource, vols *volumes.Manager, supportedFilesystems map[string]bool) (*netprov.Operation, error) {
	switch inst.Kind {
	case netprov.KindDeploy:
		return compileDeploy(inst, images, vols)
	case netprov.KindPull:
		return compilePull(inst, images)
	case netprov.KindCopy:
		return compileCopy(inst, images, vols)
	case netprov.KindUnpack:
		return compileUnpack(inst, images, vols)
	case netprov.KindFormat:
		return compileFormat(inst, vols, supportedFilesystems)
	case netprov.KindOpaque:
		return nil, nil
	default:
		return nil, netprov.Errorf(netprov.ParseError, "unsupported instruction type %q", inst.Kind)
	}
}

func resolveImage(images ImageSource, name string) (*netprov.Image, error) {
	img, ok := images.Get(name)
	if !ok || !img.Available() {
		return nil, netprov.Errorf(netprov.ResolutionError, "image %q unavailable", name)
	}
	return img, nil
}

func resolveVolume(vols *volumes.Manager, name string) (*netprov.Volume, error) {
	vol := vols.Get(name)
	if vol == nil {
		return nil, netprov.Errorf(netprov.ResolutionError, "volume %q is not defined", name)
	}
	if !vol.IsAvailable() {
		return nil, netprov.Errorf(netprov.ResolutionError, "volume %q is unavailable on this system", name)
	}
	return vol, nil
}

func compileDeploy(inst *netprov.Instruction, images ImageSource, vols *volumes.Manager) (*netprov.Operation, error) {
	img, err := resolveImage(images, inst.Image)
	if err != nil {
		return nil, err
	}
	vol, err := resolveVolume(vols, inst.Volume)
	if err != nil {
		return nil, err
	}
	return &netprov.Operation{
		Kind:        netprov.OpDeploy,
		Image:       img,
		ImageVolume: inst.ImageVolume,
		Target:      vol.Target,
	}, nil
}

func compilePull(inst *netprov.Instruction, images ImageSource) (*netprov.Operation, error) {
	img, err := resolveImage(images, inst.Image)
	if err != nil {
		return nil, err
	}
	return &netprov.Operation{Kind: netprov.OpPull, Image: img}, nil
}

func compileCopy(inst *netprov.Instruction, images ImageSource, vols *volumes.Manager) (*netprov.Operation, error) {
	img, err := resolveImage(images, inst.Image)
	if err != nil {
		return nil, err
	}
	vol, err := resolveVolume(vols, inst.Volume)
	if err != nil {
		return nil, err
	}
	return &netprov.Operation{
		Kind:   netprov.OpCopy,
		Image:  img,
		Target: vol.Target,
		Path:   inst.Path,
	}, nil
}

var supportedArchiveExtensions = map[string]bool{
	".tar":    true,
	".tar.gz": true,
	".tgz":    true,
	".tar.bz2": true,
	".zip":    true,
}

func compileUnpack(inst *netprov.Instruction, images ImageSource, vols *volumes.Manager) (*netprov.Operation, error) {
	img, err := resolveImage(images, inst.Image)
	if err != nil {
		return nil, err
	}
	if ext := archiveExtension(img.Name); !supportedArchiveExtensions[ext] {
		return nil, netprov.Errorf(netprov.ResolutionError,
			"image archive format %q not supported for unpack", ext)
	}
	vol, err := resolveVolume(vols, inst.Volume)
	if err != nil {
		return nil, err
	}
	return &netprov.Operation{
		Kind:   netprov.OpUnpack,
		Image:  img,
		Target: vol.Target,
		Path:   inst.Path,
	}, nil
}

func archiveExtension(name string) string {
	for _, ext := range []string{".tar.gz", ".tar.bz2"} {
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			return ext
		}
	}
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}
	return ""
}

func compileFormat(inst *netprov.Instruction, vols *volumes.Manager, supportedFilesystems map[string]bool) (*netprov.Operation, error) {
	if !supportedFilesystems[inst.FSType] {
		return nil, netprov.Errorf(netprov.ParseError, "unsupported filesystem %q", inst.FSType)
	}
	vol, err := resolveVolume(vols, inst.Volume)
	if err != nil {
		return nil, err
	}
	return &netprov.Operation{
		Kind:   netprov.OpFormat,
		Target: vol.Target,
		FSType: inst.FSType,
	}, nil
}

// SupportedFilesystems is the filesystem set FORMAT instructions are
// validated against, matching get_supported_filesystems in the original
// client's formatting helper plus the swap case exectool also supports.
func SupportedFilesystems() map[string]bool {
	return map[string]bool{
		"vfat":  true,
		"ext4":  true,
		"xfs":   true,
		"btrfs": true,
		"swap":  true,
	}
}
