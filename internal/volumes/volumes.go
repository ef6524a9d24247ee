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

// Package volumes binds the symbolic volume names a recipe refers to
// (root, data, bootloader, ...) to concrete partitions on the system's
// root disk, per a YAML manifest that assigns each name a partition
// index.
package volumes

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"netprov/pkg/netprov"
)

type manifest struct {
	Volumes map[string]struct {
		Index int `yaml:"index"`
	} `yaml:"volumes"`
}

// Parse reads a volume manifest and returns the declared volumes,
// unbound (Target is nil until Manager.Sync resolves it against a
// disk).
func Parse(doc string) ([]*netprov.Volume, error) {
	var m manifest
	if err := yaml.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("volumes: parse manifest: %w", err)
	}

	var out []*netprov.Volume
	for name, data := range m.Volumes {
		out = append(out, &netprov.Volume{Name: name, Index: data.Index})
	}
	return out, nil
}

// Manager resolves volume names to partitions on a single root disk,
// keeping the local image cache's own partition off limits to recipe
// operations.
type Manager struct {
	root      *netprov.Disk
	localRepo *netprov.Partition
	byName    map[string]*netprov.Volume
}

// NewManager creates a Manager bound to root, refusing to resolve any
// volume onto localRepo (the cache partition). localRepo may be nil.
func NewManager(root *netprov.Disk, localRepo *netprov.Partition) *Manager {
	return &Manager{root: root, localRepo: localRepo, byName: make(map[string]*netprov.Volume)}
}

// Sync parses doc and binds every declared volume to a partition on the
// manager's root disk by matching the volume's configured index against
// the partition's PartitionNumber. A volume whose index matches no
// partition is left unresolved (Target stays nil); IsAvailable() then
// reports false for it, and the compiler rejects any instruction that
// names it.
func (m *Manager) Sync(doc string) error {
	declared, err := Parse(doc)
	if err != nil {
		return err
	}

	byName := make(map[string]*netprov.Volume, len(declared))
	for _, v := range declared {
		byName[v.Name] = v
	}

	for name, volume := range byName {
		var target *netprov.Partition
		for _, part := range m.root.Partitions {
			if part.PartitionNumber != volume.Index {
				continue
			}
			if m.localRepo != nil && part.Path == m.localRepo.Path {
				return netprov.Errorf(netprov.ResourceError, "volumes: volume %q targets the local image cache partition, which recipe operations may not touch", name)
			}
			target = part
			break
		}
		volume.Target = target
	}

	m.byName = byName
	return nil
}

// Get returns the volume named name, or nil if it was never declared.
func (m *Manager) Get(name string) *netprov.Volume {
	return m.byName[name]
}

// Len reports how many volumes are declared.
func (m *Manager) Len() int { return len(m.byName) }
