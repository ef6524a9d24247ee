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

package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestCache(t *testing.T) (*Cache, string, string) {
	t.Helper()
	repo := t.TempDir()
	storage := t.TempDir()
	c, err := New(repo, storage, 4, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, repo, storage
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestSyncDiscoversRemoteOnlyImage(t *testing.T) {
	c, repo, _ := newTestCache(t)
	writeFile(t, filepath.Join(repo, "base.img"), "remote content")
	writeFile(t, filepath.Join(repo, "base.img.sha256"), "0709e9b00585ba4764fd4d89bdefec5b1a20b3735c50d8e33a27f740023ceca2")

	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	img, ok := c.Get("base.img")
	if !ok {
		t.Fatalf("expected image to be discovered")
	}
	if !img.AvailableRemote() || img.AvailableLocal() {
		t.Fatalf("got %+v", img)
	}
}

func TestSyncComputesMissingLocalHash(t *testing.T) {
	c, _, storage := newTestCache(t)
	writeFile(t, filepath.Join(storage, "cached.img"), "local content")

	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	img, ok := c.Get("cached.img")
	if !ok || img.LocalHash == "" {
		t.Fatalf("expected local hash to be computed, got %+v", img)
	}
	if _, err := os.Stat(filepath.Join(storage, "cached.img.sha256")); err != nil {
		t.Fatalf("expected sidecar hash file to be written: %v", err)
	}
}

func TestSyncIgnoresSidecarsAsImages(t *testing.T) {
	c, repo, _ := newTestCache(t)
	writeFile(t, filepath.Join(repo, "base.img"), "content")
	writeFile(t, filepath.Join(repo, "base.img.sha256"), "deadbeef")

	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(c.All()) != 1 {
		t.Fatalf("got %d images, want 1", len(c.All()))
	}
}

func TestPullCopiesRemoteImageLocally(t *testing.T) {
	c, repo, storage := newTestCache(t)
	writeFile(t, filepath.Join(repo, "base.img"), "remote content")
	writeFile(t, filepath.Join(repo, "base.img.sha256"), "0709e9b00585ba4764fd4d89bdefec5b1a20b3735c50d8e33a27f740023ceca2")
	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := c.Pull(context.Background(), "base.img", nil, nil); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(storage, "base.img"))
	if err != nil {
		t.Fatalf("read pulled image: %v", err)
	}
	if string(data) != "remote content" {
		t.Fatalf("got %q", data)
	}
}

func TestPullUnknownImage(t *testing.T) {
	c, _, _ := newTestCache(t)
	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := c.Pull(context.Background(), "missing.img", nil, nil); err == nil {
		t.Fatalf("expected error pulling unknown image")
	}
}

func TestPullSkipsUpToDateLocalCopy(t *testing.T) {
	c, repo, storage := newTestCache(t)
	writeFile(t, filepath.Join(repo, "base.img"), "same content")
	writeFile(t, filepath.Join(repo, "base.img.sha256"), "a636bd7cd42060a4d07fa1bfbcc010eb7794c2ba721e1e3e4c20335a15b66eaf")
	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := c.Pull(context.Background(), "base.img", nil, nil); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	// Rewrite the local copy directly with the same bytes; a second pull
	// should be a no-op because the sidecar hash still matches the remote's.
	writeFile(t, filepath.Join(storage, "base.img"), "same content")
	if err := c.Pull(context.Background(), "base.img", nil, nil); err != nil {
		t.Fatalf("second Pull: %v", err)
	}
}

func TestShrinkNeverEvictsDisallowedImages(t *testing.T) {
	c, _, storage := newTestCache(t)
	writeFile(t, filepath.Join(storage, "keep.img"), "keep-me-content")
	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	free, err := c.FreeStorageBytes()
	if err != nil {
		t.Fatalf("FreeStorageBytes: %v", err)
	}

	disallowed := map[string]bool{"keep.img": true}
	// Ask for more than free+shrinkable space is available; since the
	// only local image is disallowed, shrinking must fail, not delete it.
	reached, err := c.Shrink(context.Background(), int64(free)+1<<40, disallowed)
	if err != nil {
		t.Fatalf("Shrink: %v", err)
	}
	if reached {
		t.Fatalf("expected shrink to report it could not reach the target")
	}
	if _, err := os.Stat(filepath.Join(storage, "keep.img")); err != nil {
		t.Fatalf("expected disallowed image to survive shrink: %v", err)
	}
}

func TestDedupeNames(t *testing.T) {
	got := dedupeNames([]string{"b", "a"}, []string{"a", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
