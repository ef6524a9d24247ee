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

// Package netprov contains the shared data model used across the
// provisioning client: block-device inventory, volumes, images, recipe
// instructions, and their compiled operation counterparts. These types
// mirror the conceptual model described in the recipe execution design.
package netprov

// Disk is a block device enumerated from the running system.
type Disk struct {
	Path       string
	Size       int64
	Removable  bool
	Partitions []*Partition
}

// Partition belongs to exactly one Disk. PartitionNumber is the
// partition's ordinal as reported by the block-device enumerator
// (lsblk's PARTN column), used to bind volumes to partitions instead of
// the fragile device-path string-suffix rule.
type Partition struct {
	Path            string
	Size            int64
	Removable       bool
	PartitionNumber int
	PartUUID        string
	FSUUID          string
	FSType          string
	PartLabel       string
	FSLabel         string
	Mountpoint      string
}

// Mounted reports whether the partition currently has a mountpoint.
func (p *Partition) Mounted() bool { return p != nil && p.Mountpoint != "" }

// Volume is a symbolic name bound to a concrete partition on the root
// disk. Target is nil when the name could not be resolved.
type Volume struct {
	Name   string
	Index  int
	Target *Partition
}

// IsAvailable reports whether the volume resolved to a partition.
func (v *Volume) IsAvailable() bool { return v != nil && v.Target != nil }

// Image is a file in the repository representing one or more partition
// images, or a plain file/archive for COPY/UNPACK. See the cache
// invariants in the image cache package for how these fields are kept
// consistent.
type Image struct {
	Name        string
	RemotePath  string
	LocalPath   string
	RemoteHash  string
	LocalHash   string
}

// AvailableLocal reports whether the image has a materialized local copy.
func (img *Image) AvailableLocal() bool { return img.LocalPath != "" }

// AvailableRemote reports whether the image is visible in the remote repo.
func (img *Image) AvailableRemote() bool { return img.RemotePath != "" && img.RemoteHash != "" }

// Outdated reports whether the local copy no longer matches the remote hash.
func (img *Image) Outdated() bool {
	return img.AvailableLocal() && img.AvailableRemote() && img.LocalHash != img.RemoteHash
}

// BestPath returns the path that should be used to read the image content,
// preferring the local cached copy over the remote one.
func (img *Image) BestPath() string {
	if img.AvailableLocal() {
		return img.LocalPath
	}
	if img.AvailableRemote() {
		return img.RemotePath
	}
	return ""
}

// Available reports whether the image can be read from anywhere.
func (img *Image) Available() bool { return img.AvailableLocal() || img.AvailableRemote() }

// InstructionKind tags the variant carried by an Instruction.
type InstructionKind string

const (
	KindDeploy InstructionKind = "DEPLOY"
	KindPull   InstructionKind = "PULL"
	KindCopy   InstructionKind = "COPY"
	KindUnpack InstructionKind = "UNPACK"
	KindFormat InstructionKind = "FORMAT"
	KindOpaque InstructionKind = "OPAQUE"
)

// Instruction is one parsed line of a recipe. Only the fields relevant
// to Kind are populated; the parser is the sole constructor of valid
// instructions.
type Instruction struct {
	Kind InstructionKind
	Line int

	// DEPLOY
	Image       string // source image name
	ImageVolume string // optional partition-name selector within a multi-part image
	Volume      string // destination volume name

	// COPY / UNPACK also use Image, Volume above, plus:
	Path string // destination path within the volume

	// FORMAT
	FSType string

	// OPAQUE
	Raw string // original instruction word, for unsupported instructions
}

// OperationKind tags the variant carried by an Operation.
type OperationKind string

const (
	OpDeploy OperationKind = "deploy"
	OpPull   OperationKind = "pull"
	OpCopy   OperationKind = "copy"
	OpUnpack OperationKind = "unpack"
	OpFormat OperationKind = "format"
)

// Operation is a compiled, fully-resolved counterpart of an Instruction.
// It carries concrete references resolved at compile time; no further
// name lookups occur during execution.
type Operation struct {
	Kind OperationKind

	Image       *Image
	ImageVolume string // deferred validation until execution, see executor.executeDeploy
	Target      *Partition
	Path        string // COPY/UNPACK destination, already normalized
	FSType      string
}
