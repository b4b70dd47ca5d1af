package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hunianlab/rumahcari/internal/memory"
	"github.com/hunianlab/rumahcari/internal/store"
)

// CheckVectorIndex reads every saved collection's sidecar and reports
// corruption. A missing index directory passes: that is a fresh install.
func (c *Checker) CheckVectorIndex() CheckResult {
	result := CheckResult{Name: "vector_index", Required: true}

	root := c.cfg.IndexDir()
	dirs, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		result.Status = StatusPass
		result.Message = "no index yet (run sync)"
		return result
	}
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("read index dir: %v", err)
		return result
	}

	collections := 0
	entries := 0
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		info, err := store.ReadCollectionInfo(filepath.Join(root, d.Name(), "vectors.hnsw"))
		if err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("collection %s: %v", d.Name(), err)
			result.Details = "delete the collection directory and re-run sync --reset"
			return result
		}
		if info.ModelID == "" {
			continue
		}
		collections++
		entries += info.Count
	}

	result.Status = StatusPass
	if collections == 0 {
		result.Message = "no index yet (run sync)"
	} else {
		result.Message = fmt.Sprintf("%d collection(s), %d entries", collections, entries)
	}
	return result
}

// CheckMemoryDB opens the conversation database and closes it again.
// A missing file passes: it is created on first chat.
func (c *Checker) CheckMemoryDB() CheckResult {
	result := CheckResult{Name: "memory_db", Required: true}

	path := c.cfg.MemoryDBPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		result.Status = StatusPass
		result.Message = "no conversations yet"
		return result
	}

	db, err := memory.Open(path, nil)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("open %s: %v", path, err)
		return result
	}
	_ = db.Close()

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = path
	return result
}
