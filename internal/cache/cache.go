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

// Package cache implements the content-addressed local image cache: a
// directory of images synced in from a read-only remote repository,
// each tracked with a sidecar sha256 hash file, evicted largest-first
// when space is needed for a pull.
package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"netprov/pkg/netprov"
)

const (
	lockFileName      = ".netprov-cache.lock"
	lockRetryInterval = 50 * time.Millisecond
)

// Cache tracks images visible in a remote repository directory and
// materialized in a local storage directory. Shrink and Pull take an
// advisory file lock on the storage directory, so two processes cannot
// run them against it at the same time; Sync does not take the lock.
type Cache struct {
	repoPath    string
	storagePath string

	mu     sync.RWMutex
	images map[string]*netprov.Image

	maxConcurrentHashes int
	lock                *flock.Flock

	logger *log.Logger
}

// New creates a Cache rooted at repoPath (remote, read-only) and
// storagePath (local, read-write). Both directories must already
// exist, matching the original client's refusal to operate against a
// repository it cannot see mounted.
func New(repoPath, storagePath string, maxConcurrentHashes int, logger *log.Logger) (*Cache, error) {
	if _, err := os.Stat(repoPath); err != nil {
		return nil, fmt.Errorf("cache: non-existent repository path %q: %w", repoPath, err)
	}
	if _, err := os.Stat(storagePath); err != nil {
		return nil, fmt.Errorf("cache: non-existent storage path %q: %w", storagePath, err)
	}
	if maxConcurrentHashes < 1 {
		maxConcurrentHashes = 1
	}

	return &Cache{
		repoPath:            repoPath,
		storagePath:         storagePath,
		images:              make(map[string]*netprov.Image),
		maxConcurrentHashes: maxConcurrentHashes,
		lock:                flock.New(filepath.Join(storagePath, lockFileName)),
		logger:              logger,
	}, nil
}

func (c *Cache) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf("[cache] "+format, args...)
	}
}

func (c *Cache) withLock(ctx context.Context, fn func() error) error {
	locked, err := c.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("cache: acquire storage lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("cache: storage directory is locked by another process")
	}
	defer c.lock.Unlock()
	return fn()
}

// listImageFiles lists the plain files in dir that are not themselves
// hash sidecars.
func listImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cache: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if hasSuffix(name, hashSigExt) || name == lockFileName {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// Sync rebuilds the image list from whatever is visible in the remote
// repository and local storage directories right now. Images missing a
// local sidecar hash have one computed, bounded to maxConcurrentHashes
// concurrent hash computations so a sync over a large, cold cache
// doesn't serialize on disk I/O one file at a time.
func (c *Cache) Sync(ctx context.Context) error {
	remoteNames, err := listImageFiles(c.repoPath)
	if err != nil {
		return err
	}
	localNames, err := listImageFiles(c.storagePath)
	if err != nil {
		return err
	}

	names := dedupeNames(remoteNames, localNames)
	images := make(map[string]*netprov.Image, len(names))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrentHashes)

	for _, name := range names {
		name := name
		g.Go(func() error {
			img, err := c.syncOne(gctx, name)
			if err != nil {
				c.logf("WARNING: failed to sync image %s: %v", name, err)
				return nil
			}
			mu.Lock()
			images[name] = img
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.images = images
	c.mu.Unlock()
	return nil
}

func (c *Cache) syncOne(ctx context.Context, name string) (*netprov.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	localPath := filepath.Join(c.storagePath, name)
	remotePath := filepath.Join(c.repoPath, name)

	localExists := fileExists(localPath)
	remoteExists := fileExists(remotePath)

	localHash, err := readHash(localPath)
	if err != nil {
		return nil, err
	}
	remoteHash, err := readHash(remotePath)
	if err != nil {
		return nil, err
	}

	if localExists && localHash == "" {
		localHash, err = computeHash(localPath)
		if err != nil {
			return nil, err
		}
		if err := writeHash(localPath, localHash); err != nil {
			return nil, err
		}
	}

	img := &netprov.Image{Name: name}
	if remoteExists {
		img.RemotePath = remotePath
		img.RemoteHash = remoteHash
	}
	if localExists {
		img.LocalPath = localPath
		img.LocalHash = localHash
	}
	return img, nil
}

func dedupeNames(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, n := range list {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Get returns the named image and whether it is known to the cache.
func (c *Cache) Get(name string) (*netprov.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.images[name]
	return img, ok
}

// All returns every image the last Sync found, in name order.
func (c *Cache) All() []*netprov.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*netprov.Image, 0, len(c.images))
	for _, img := range c.images {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FreeStorageBytes reports the free space on the filesystem backing the
// storage directory.
func (c *Cache) FreeStorageBytes() (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.storagePath, &stat); err != nil {
		return 0, fmt.Errorf("cache: statfs %s: %w", c.storagePath, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func imageSize(img *netprov.Image) (int64, error) {
	path := img.LocalPath
	if path == "" {
		path = img.RemotePath
	}
	if path == "" {
		return 0, fmt.Errorf("cache: image %s has no path to size", img.Name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("cache: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// deleteLocal removes an image's local copy and its sidecar hash,
// mirroring Image.delete.
func (c *Cache) deleteLocal(img *netprov.Image) error {
	if img.LocalPath == "" {
		return nil
	}
	if err := os.Remove(img.LocalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: delete %s: %w", img.LocalPath, err)
	}
	if err := writeHash(img.LocalPath, ""); err != nil {
		return err
	}
	img.LocalPath = ""
	img.LocalHash = ""
	return nil
}
