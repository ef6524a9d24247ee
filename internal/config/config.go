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

// Package config assembles the provisioning client's runtime
// configuration from built-in defaults, the kernel command line and
// environment variables, each source overriding the one before it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"netprov/internal/kernel"
)

// Config holds everything the client needs to locate its remote repo,
// its local cache, the root disk it provisions, and how it talks to
// the recipe/config server.
type Config struct {
	// RemoteMountpoint is where the read-only network repository is
	// already mounted (by the boot environment, before the client runs).
	RemoteMountpoint string

	// CacheMountpoint is where the local cache partition is mounted.
	CacheMountpoint string

	// CacheLabel is the filesystem label used to find the cache
	// partition among the root disk's partitions.
	CacheLabel string

	// ConfigHost and ConfigPort address the recipe/config server.
	ConfigHost string
	ConfigPort int

	// MaxConcurrentHashes bounds how many sidecar hashes the cache
	// computes in parallel during sync.
	MaxConcurrentHashes int

	// RequestTimeout is read and validated here but not passed to the
	// repo client, whose listing and body requests use fixed 10s and 20s
	// timeouts.
	RequestTimeout time.Duration

	// InventoryCacheSize bounds the lsblk inventory memoization cache.
	InventoryCacheSize int

	// JournalPath is the SQLite database file recording recipe run
	// history. Empty disables the journal.
	JournalPath string

	// MetricsAddr, if non-empty, is the address the Prometheus metrics
	// handler listens on.
	MetricsAddr string
}

// Default returns the configuration the client falls back to when
// neither the kernel command line nor the environment name a value.
func Default() Config {
	return Config{
		RemoteMountpoint:    "/mnt/repo",
		CacheMountpoint:     "/mnt/cache",
		CacheLabel:          "FAILRP_CACHE",
		ConfigHost:          "",
		ConfigPort:          2021,
		MaxConcurrentHashes: 4,
		RequestTimeout:      30 * time.Second,
		InventoryCacheSize:  32,
		JournalPath:         "/mnt/cache/netprov.db",
		MetricsAddr:         "",
	}
}

// Load builds a Config starting from Default, then applying the kernel
// command line, then environment variables, in that order, so that each
// source can override the one before it.
func Load(cl *kernel.Cmdline) (Config, error) {
	cfg := Default()

	if cl != nil {
		if v, ok := cl.Get("remote_mountpoint"); ok {
			cfg.RemoteMountpoint = v
		}
		if v, ok := cl.Get("cache_mountpoint"); ok {
			cfg.CacheMountpoint = v
		}
		if v, ok := cl.Get("cache_label"); ok {
			cfg.CacheLabel = v
		}
		if v, ok := cl.Get("host"); ok {
			cfg.ConfigHost = v
		}
		if v, ok := cl.Get("port"); ok {
			port, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("config: invalid port %q on kernel cmdline: %w", v, err)
			}
			cfg.ConfigPort = port
		}
	}

	if v := os.Getenv("NETPROV_REMOTE_MOUNTPOINT"); v != "" {
		cfg.RemoteMountpoint = v
	}
	if v := os.Getenv("NETPROV_CACHE_MOUNTPOINT"); v != "" {
		cfg.CacheMountpoint = v
	}
	if v := os.Getenv("NETPROV_CACHE_LABEL"); v != "" {
		cfg.CacheLabel = v
	}
	if v := os.Getenv("NETPROV_CONFIG_HOST"); v != "" {
		cfg.ConfigHost = v
	}
	if v := os.Getenv("NETPROV_CONFIG_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid NETPROV_CONFIG_PORT %q: %w", v, err)
		}
		cfg.ConfigPort = port
	}
	if v := os.Getenv("NETPROV_MAX_CONCURRENT_HASHES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid NETPROV_MAX_CONCURRENT_HASHES %q: %w", v, err)
		}
		cfg.MaxConcurrentHashes = n
	}
	if v := os.Getenv("NETPROV_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid NETPROV_REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("NETPROV_JOURNAL_PATH"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("NETPROV_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration is self-consistent.
func (c *Config) Validate() error {
	if c.RemoteMountpoint == "" {
		return fmt.Errorf("config: remote mountpoint cannot be empty")
	}
	if c.CacheMountpoint == "" {
		return fmt.Errorf("config: cache mountpoint cannot be empty")
	}
	if c.CacheLabel == "" {
		return fmt.Errorf("config: cache label cannot be empty")
	}
	if c.ConfigPort < 1 || c.ConfigPort > 65535 {
		return fmt.Errorf("config: port %d out of range", c.ConfigPort)
	}
	if c.MaxConcurrentHashes < 1 {
		return fmt.Errorf("config: max concurrent hashes must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	return nil
}

// Addr returns host:port for the config server, suitable for use as a
// base URL authority.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ConfigHost, c.ConfigPort)
}
