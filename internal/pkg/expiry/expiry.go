// Package expiry implements ExpiryEngine (spec §4.5): on nodes
// configured for local-disk PCAP storage, periodically checks free
// space per underlying device and deletes the oldest unlocked files
// until free space recovers or the per-device floor of 10 files is
// hit. Grounded on the teacher's golang.org/x/sys/unix usage style
// (internal/pkg/voip/cpu_affinity.go, mmap_writer.go) for raw syscall
// wrapping; statfs itself has no teacher precedent, so this is the one
// piece of DOMAIN STACK wiring built directly against the ecosystem
// package rather than an adapted teacher call site.
package expiry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/endorses/packhound/internal/pkg/catalog"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/endorses/packhound/internal/pkg/metrics"
	"github.com/endorses/packhound/internal/pkg/model"
	"golang.org/x/sys/unix"
)

// tickInterval matches CronEngine and HuntEngine's 60s cadence (spec
// §4.5 "Runs every 60 s").
const tickInterval = 60 * time.Second

// minFilesFloor is the hard floor ExpiryEngine will never delete below
// for any one device, even if free space stays under target (spec §4.5
// step 3, §8 P6).
const minFilesFloor = 10

// deleteBatchSize bounds the oldest-files query page size (spec §4.5
// step 3 "size 200").
const deleteBatchSize = 200

// Target describes one local-disk device ExpiryEngine monitors: the
// set of directories sharing it and the desired free-space level.
type Target struct {
	Dirs       []string
	FreeSpaceG string // absolute GB ("50") or percent ("10%")
}

// Engine runs ExpiryEngine for this node's local-disk targets.
type Engine struct {
	catalog  *catalog.Catalog
	nodeName string
	targets  []Target
	metrics  *metrics.Registry
}

// New builds an Engine over the given local-disk targets.
func New(cat *catalog.Catalog, nodeName string, targets []Target, m *metrics.Registry) *Engine {
	return &Engine{catalog: cat, nodeName: nodeName, targets: targets, metrics: m}
}

// Run blocks, ticking every 60s until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		e.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one pass over every configured target (spec §4.5 steps 1-4).
func (e *Engine) tick(ctx context.Context) {
	for _, groups := range groupByDevice(e.targets) {
		if err := e.reclaim(ctx, groups); err != nil {
			logger.Warn("expiry: reclaim pass failed", "dirs", groups.dirs, "error", err)
		}
	}
}

// deviceGroup is one set of configured directories that share an
// underlying block device, plus the free-space target applying to
// them (spec §4.5 step 1: "group by underlying device via stat -> dev").
type deviceGroup struct {
	dirs       []string
	freeSpaceG string
}

// groupByDevice groups each Target's directories by the device number
// statfs reports, merging configuration entries that happen to share
// a device (spec §4.5 step 1).
func groupByDevice(targets []Target) []deviceGroup {
	byDev := make(map[uint64]*deviceGroup)
	var order []uint64
	for _, t := range targets {
		for _, dir := range t.Dirs {
			dev, err := deviceOf(dir)
			if err != nil {
				logger.Warn("expiry: cannot stat pcap dir, skipping", "dir", dir, "error", err)
				continue
			}
			g, ok := byDev[dev]
			if !ok {
				g = &deviceGroup{freeSpaceG: t.FreeSpaceG}
				byDev[dev] = g
				order = append(order, dev)
			}
			g.dirs = append(g.dirs, dir)
		}
	}
	out := make([]deviceGroup, 0, len(order))
	for _, dev := range order {
		out = append(out, *byDev[dev])
	}
	return out
}

func deviceOf(dir string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", dir, err)
	}
	return uint64(st.Dev), nil
}

// freeBytes reports the free space on the filesystem holding dir via
// statfs (spec §4.5 step 2: "Compute free space via statvfs").
func freeBytes(dir string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	bsize := uint64(st.Bsize)
	return st.Bfree * bsize, st.Blocks * bsize, nil
}

// targetBytes converts a freeSpaceG configuration value ("50" or
// "10%") to an absolute byte target against totalBytes (spec §4.5
// step 2: "configured freeSpaceG may be absolute GB or % of total ->
// convert").
func targetBytes(freeSpaceG string, totalBytes uint64) (uint64, error) {
	freeSpaceG = strings.TrimSpace(freeSpaceG)
	if strings.HasSuffix(freeSpaceG, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(freeSpaceG, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("parse percent freeSpaceG %q: %w", freeSpaceG, err)
		}
		return uint64(float64(totalBytes) * pct / 100), nil
	}
	gb, err := strconv.ParseFloat(freeSpaceG, 64)
	if err != nil {
		return 0, fmt.Errorf("parse absolute freeSpaceG %q: %w", freeSpaceG, err)
	}
	return uint64(gb * 1e9), nil
}

// reclaim deletes oldest-first files rooted in group's directories
// until free space recovers or the per-device floor is hit (spec §4.5
// steps 2-4).
func (e *Engine) reclaim(ctx context.Context, group deviceGroup) error {
	if len(group.dirs) == 0 {
		return nil
	}
	free, total, err := freeBytes(group.dirs[0])
	if err != nil {
		return err
	}
	target, err := targetBytes(group.freeSpaceG, total)
	if err != nil {
		return err
	}
	if free >= target {
		return nil
	}

	candidates, err := e.catalog.OldestUnlocked([]string{e.nodeName}, group.dirs, deleteBatchSize)
	if err != nil {
		return fmt.Errorf("query oldest unlocked files: %w", err)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].First < candidates[j].First })

	for _, pf := range candidates {
		if free >= target {
			return nil
		}

		remaining, err := e.countForDevice(group)
		if err != nil {
			return fmt.Errorf("count remaining files: %w", err)
		}
		if remaining <= minFilesFloor {
			logger.Info("expiry: hit per-device file floor, stopping", "dirs", group.dirs, "floor", minFilesFloor)
			return nil
		}

		freed, err := e.deleteFile(pf)
		if err != nil {
			logger.Warn("expiry: failed to delete pcap file", "node", pf.Node, "num", pf.Num, "error", err)
			continue
		}
		free += freed
		if e.metrics != nil {
			e.metrics.ExpiryBytesFreed.Add(float64(freed))
			e.metrics.ExpiryFilesDeleted.Inc()
		}
	}
	return nil
}

// countForDevice sums the catalog's file count across every
// configured pcapDir that resolves to group's underlying device (spec
// §4.5 step 1 anticipates one device backing multiple pcapDir paths),
// so the per-device floor check reflects the whole device, not just
// one of its directories.
func (e *Engine) countForDevice(group deviceGroup) (int64, error) {
	var total int64
	for _, dir := range group.dirs {
		n, err := e.catalog.CountForDir(dir)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// deleteFile removes the on-disk file (if present; a missing file
// still counts as progress per spec §4.5 step 4) and its catalog row.
func (e *Engine) deleteFile(pf model.PcapFile) (uint64, error) {
	if pf.Locked {
		return 0, fmt.Errorf("refusing to delete locked file node=%s num=%d", pf.Node, pf.Num)
	}
	path, err := e.catalog.Path(pf.Node, pf.Num)
	if err != nil {
		return 0, err
	}

	var freed uint64
	if info, statErr := os.Stat(path); statErr == nil {
		freed = uint64(info.Size())
		if rmErr := os.Remove(path); rmErr != nil {
			return 0, fmt.Errorf("remove %s: %w", path, rmErr)
		}
	}
	// A missing file on disk still removes the catalog row (spec §4.5
	// step 4: "counts as free space below target so the index row is
	// removed anyway").
	if err := e.catalog.Delete(pf.Node, pf.Num); err != nil {
		return 0, fmt.Errorf("remove catalog row: %w", err)
	}
	return freed, nil
}
