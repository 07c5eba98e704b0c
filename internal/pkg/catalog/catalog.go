// Package catalog is a per-node local cache of PcapFile metadata
// (name, size, locked, first, encoding), mirrored from the `files` ES
// index so PcapStore.Open and ExpiryEngine can resolve file metadata
// and paths without a round trip on every packet read (SPEC_FULL
// DOMAIN STACK). Grounded on abi-jey-net-watcher's gorm+sqlite local
// store (internal/database/db.go): WAL mode, AutoMigrate, and simple
// Create/Where/Delete usage.
package catalog

import (
	"fmt"
	"path/filepath"

	"github.com/endorses/packhound/internal/pkg/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Row is the gorm-mapped local mirror of model.PcapFile.
type Row struct {
	Node     string `gorm:"primaryKey;index:idx_node_num,unique"`
	Num      int64  `gorm:"primaryKey;index:idx_node_num,unique"`
	Name     string
	Dir      string
	Size     int64
	Locked   bool
	First    int64 `gorm:"index"`
	Encoding string
}

func (Row) TableName() string { return "pcap_files" }

func toRow(node string, f model.PcapFile, dir string) Row {
	return Row{Node: node, Num: f.Num, Name: f.Name, Dir: dir, Size: f.Size, Locked: f.Locked, First: f.First, Encoding: f.Encoding}
}

func (r Row) toModel() model.PcapFile {
	return model.PcapFile{Node: r.Node, Num: r.Num, Name: r.Name, Size: r.Size, Locked: r.Locked, First: r.First, Encoding: r.Encoding}
}

// Catalog wraps the local sqlite mirror.
type Catalog struct {
	db *gorm.DB
}

// Open creates or attaches to a sqlite catalog at dbPath, migrating the
// schema on first use.
func Open(dbPath string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dbPath, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("catalog underlying db: %w", err)
	}
	sqlDB.Exec("PRAGMA journal_mode=WAL")
	sqlDB.Exec("PRAGMA synchronous=NORMAL")

	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying sqlite connection.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert records or refreshes one PcapFile row for node, mirroring a
// write from the `files` ES index. dir is the filesystem directory
// the file lives in, used by Path.
func (c *Catalog) Upsert(node string, f model.PcapFile, dir string) error {
	row := toRow(node, f, dir)
	return c.db.Save(&row).Error
}

// Get returns the cached row for (node, fileNum).
func (c *Catalog) Get(node string, fileNum int64) (model.PcapFile, error) {
	var row Row
	if err := c.db.Where("node = ? AND num = ?", node, fileNum).First(&row).Error; err != nil {
		return model.PcapFile{}, fmt.Errorf("catalog lookup node=%s file=%d: %w", node, fileNum, err)
	}
	return row.toModel(), nil
}

// Path resolves the absolute filesystem path for (node, fileNum),
// satisfying pcapstore.PathResolver.
func (c *Catalog) Path(node string, fileNum int64) (string, error) {
	var row Row
	if err := c.db.Where("node = ? AND num = ?", node, fileNum).First(&row).Error; err != nil {
		return "", fmt.Errorf("catalog path lookup node=%s file=%d: %w", node, fileNum, err)
	}
	return filepath.Join(row.Dir, row.Name), nil
}

// Delete removes the catalog row for (node, fileNum), used by
// ExpiryEngine once the underlying file has been removed from disk
// (spec §4.5 step 3).
func (c *Catalog) Delete(node string, fileNum int64) error {
	return c.db.Where("node = ? AND num = ?", node, fileNum).Delete(&Row{}).Error
}

// OldestUnlocked returns up to limit unlocked rows for the given nodes
// whose directory is one of dirs, sorted oldest-first by First (spec
// §4.5 step 3: "query the files index for the oldest files ... sorted
// first:asc").
func (c *Catalog) OldestUnlocked(nodes []string, dirs []string, limit int) ([]model.PcapFile, error) {
	var rows []Row
	q := c.db.Model(&Row{}).Where("locked = ?", false).Order("first ASC").Limit(limit)
	if len(nodes) > 0 {
		q = q.Where("node IN ?", nodes)
	}
	if len(dirs) > 0 {
		q = q.Where("dir IN ?", dirs)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog oldest-unlocked query: %w", err)
	}
	out := make([]model.PcapFile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// CountForDir returns the number of cataloged files rooted at dir,
// used to enforce ExpiryEngine's "never reduce the per-device file
// count below 10" hard floor (spec §4.5 step 3, §8 P6).
func (c *Catalog) CountForDir(dir string) (int64, error) {
	var n int64
	err := c.db.Model(&Row{}).Where("dir = ?", dir).Count(&n).Error
	return n, err
}

// Dirs returns the distinct directories cataloged for nodes, used by
// ExpiryEngine to group files by underlying device (spec §4.5 step 1).
func (c *Catalog) Dirs(nodes []string) ([]string, error) {
	var dirs []string
	err := c.db.Model(&Row{}).Where("node IN ?", nodes).Distinct("dir").Pluck("dir", &dirs).Error
	return dirs, err
}
