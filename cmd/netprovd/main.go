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

// Command netprovd runs one provisioning recipe against the local
// machine: it locates the cache partition on the root disk, syncs the
// local image cache against the network repo, fetches the requested
// recipe and volume manifest from the config server, compiles the
// recipe, and executes it step by step.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"netprov/internal/cache"
	"netprov/internal/compiler"
	"netprov/internal/config"
	"netprov/internal/executor"
	"netprov/internal/inventory"
	"netprov/internal/journal"
	"netprov/internal/kernel"
	"netprov/internal/logging"
	"netprov/internal/metrics"
	"netprov/internal/recipe"
	"netprov/internal/repoclient"
	"netprov/internal/volumes"
	"netprov/pkg/netprov"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && args[0] == "history" {
		return runHistory(args[1:])
	}
	return runProvision(args)
}

func runProvision(args []string) int {
	fs := flag.NewFlagSet("netprovd", flag.ContinueOnError)
	recipeName := fs.String("recipe", "", "name of the recipe to run (prompts interactively if empty)")
	manifestName := fs.String("manifest", "", "name of the volume manifest to use (first available if empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}

	var j *journal.Journal
	if cfg.JournalPath != "" {
		j, err = journal.Open(ctx, cfg.JournalPath)
		if err != nil {
			logger.Printf("WARNING: journal disabled: %v", err)
			j = nil
		} else {
			defer j.Close()
		}
	}
	logs := logging.New(logger, j)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	inv, err := inventory.New(cfg.InventoryCacheSize)
	if err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}

	rootDisk, cachePart, err := findCachePartition(ctx, inv, cfg.CacheLabel)
	if err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}
	logger.Printf("using root disk %s, cache partition %s", rootDisk.Path, cachePart.Path)

	imageCache, err := cache.New(cfg.RemoteMountpoint, cfg.CacheMountpoint, cfg.MaxConcurrentHashes, logger)
	if err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}

	syncStart := time.Now()
	syncErr := imageCache.Sync(ctx)
	metrics.ObserveCacheOp(metrics.CacheSync, statusFor(syncErr), time.Since(syncStart))
	if syncErr != nil {
		logger.Printf("fatal: cache sync failed: %v", syncErr)
		return 1
	}

	client, err := repoclient.New(cfg.Addr(), logger)
	if err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}

	manifestDoc, name, err := selectManifest(ctx, client, *manifestName)
	if err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}
	logger.Printf("using volume manifest %q", name)

	vols := volumes.NewManager(rootDisk, cachePart)
	if err := vols.Sync(manifestDoc); err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}

	recipeBody, selectedName, err := selectRecipe(ctx, client, *recipeName)
	if err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}

	r, err := recipe.Parse(recipeBody)
	if err != nil {
		metrics.ObserveCompile(metrics.StatusErr)
		logger.Printf("fatal: recipe %q: %v", selectedName, err)
		return 1
	}

	ops, err := compiler.Compile(r, imageCache, vols, compiler.SupportedFilesystems())
	if err != nil {
		metrics.ObserveCompile(metrics.StatusErr)
		logger.Printf("fatal: compile %q: %v", selectedName, err)
		return 1
	}
	metrics.ObserveCompile(metrics.StatusOK)

	if _, err := logs.BeginRun(ctx, selectedName); err != nil {
		logger.Printf("WARNING: failed to start journal run: %v", err)
	}

	exec := executor.New(inv, imageCache, logger)
	var failedStep *int
	execErr := exec.Execute(ctx, ops, func(step executor.StepResult) {
		status := metrics.StatusOK
		if step.Err != nil {
			status = metrics.StatusErr
			idx := step.Index
			failedStep = &idx
		}
		metrics.ObserveExecutorOp(string(step.Operation.Kind), status, step.Duration)
		logs.Step(ctx, string(step.Operation.Kind), describeOperation(step.Operation), step.Err)
	})

	finalStatus := "succeeded"
	if execErr != nil {
		finalStatus = "failed"
	}
	if err := logs.EndRun(ctx, finalStatus, failedStep, execErr); err != nil {
		logger.Printf("WARNING: failed to finalize journal run: %v", err)
	}

	if execErr != nil {
		logger.Printf("fatal: execution failed: %v", execErr)
		return 1
	}
	logger.Printf("recipe %q completed successfully", selectedName)
	return 0
}

func loadConfig() (config.Config, error) {
	cl, err := kernel.Load()
	if err != nil {
		cl = nil
	}
	return config.Load(cl)
}

func serveMetrics(addr string, logger *log.Logger) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler()}
	logger.Printf("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("WARNING: metrics server stopped: %v", err)
	}
}

func statusFor(err error) string {
	if err != nil {
		return metrics.StatusErr
	}
	return metrics.StatusOK
}

func describeOperation(op *netprov.Operation) string {
	switch op.Kind {
	case netprov.OpPull:
		return op.Image.Name
	case netprov.OpDeploy:
		return fmt.Sprintf("%s -> %s", op.Image.Name, op.Target.Path)
	case netprov.OpCopy, netprov.OpUnpack:
		return fmt.Sprintf("%s -> %s:%s", op.Image.Name, op.Target.Path, op.Path)
	case netprov.OpFormat:
		return fmt.Sprintf("%s as %s", op.Target.Path, op.FSType)
	default:
		return string(op.Kind)
	}
}

// findCachePartition locates the disk and partition carrying the cache
// label, mirroring app.py's root_disk/repo_part discovery loop: the
// first non-removable partition whose filesystem label matches wins.
func findCachePartition(ctx context.Context, inv *inventory.Inventory, label string) (*netprov.Disk, *netprov.Partition, error) {
	disks, err := inv.Disks(ctx)
	if err != nil {
		return nil, nil, netprov.NewError(netprov.ExternalError, err)
	}
	for _, disk := range disks {
		for _, part := range disk.Partitions {
			if !part.Removable && part.FSLabel == label {
				return disk, part, nil
			}
		}
	}
	return nil, nil, netprov.Errorf(netprov.ResourceError, "no partition found with cache label %q", label)
}

func selectManifest(ctx context.Context, client *repoclient.Client, name string) (string, string, error) {
	if name != "" {
		doc, err := client.Manifest(ctx, name)
		return doc, name, err
	}
	names, err := client.ListManifests(ctx)
	if err != nil {
		return "", "", err
	}
	if len(names) == 0 {
		return "", "", netprov.Errorf(netprov.ConfigError, "no volume manifests available from config server")
	}
	doc, err := client.Manifest(ctx, names[0])
	return doc, names[0], err
}

func selectRecipe(ctx context.Context, client *repoclient.Client, name string) (string, string, error) {
	if name != "" {
		body, err := client.Recipe(ctx, name)
		return body, name, err
	}
	names, err := client.ListRecipes(ctx)
	if err != nil {
		return "", "", err
	}
	for {
		fmt.Print("Select config: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", netprov.NewError(netprov.IOError, err)
		}
		chosen := trimNewline(line)
		for _, n := range names {
			if n == chosen {
				body, err := client.Recipe(ctx, chosen)
				return body, chosen, err
			}
		}
		fmt.Println("Invalid config name")
		fmt.Printf("Available config files: %s\n", joinNames(names))
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 20, "number of recent runs to show")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	if cfg.JournalPath == "" {
		fmt.Fprintln(os.Stderr, "journal is disabled")
		return 1
	}

	ctx := context.Background()
	j, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	defer j.Close()

	runs, err := j.RecentRuns(ctx, *n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	for _, r := range runs {
		finished := "running"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format(time.RFC3339)
		}
		fmt.Printf("#%d  %s  %-20s  started=%s  finished=%s  status=%s\n",
			r.ID, r.UUID, r.RecipeName, r.StartedAt.Format(time.RFC3339), finished, r.Status)
		if r.Error != "" {
			fmt.Printf("    error: %s\n", r.Error)
		}
	}
	return 0
}
