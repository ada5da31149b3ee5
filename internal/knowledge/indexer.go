// Package knowledge implements the workspace knowledge tools: indexing,
// search, pattern findings, remote sync, and purge. Each tool runs behind
// the dispatcher, so it only ever sees authorized, schema-valid requests.
package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/loreguard/loreguard/internal/store"
	"github.com/loreguard/loreguard/internal/workspace"
)

// maxIndexedBytes caps how much of a file the indexer stores. Larger files
// are indexed by their head.
const maxIndexedBytes = 256 * 1024

// indexableExt maps file extensions to the entry kind they index as.
var indexableExt = map[string]string{
	".go":   "source",
	".py":   "source",
	".js":   "source",
	".ts":   "source",
	".rs":   "source",
	".md":   "doc",
	".txt":  "doc",
	".yaml": "config",
	".yml":  "config",
	".json": "config",
	".toml": "config",
}

// findingMarkers are content markers that produce pattern findings during
// indexing.
var findingMarkers = []string{"TODO", "FIXME", "HACK", "XXX"}

type indexSummary struct {
	Files    int
	Entries  int
	Findings int
}

// indexWorkspace walks the workspace root and (re)indexes every supported
// file. Hidden directories and anything unreadable are skipped.
func indexWorkspace(ws *workspace.Workspace) (indexSummary, error) {
	if ws == nil {
		return indexSummary{}, fmt.Errorf("knowledge: no workspace resolved")
	}
	st := ws.Store()
	if st == nil {
		return indexSummary{}, fmt.Errorf("knowledge: workspace %s is not instrumented", ws.Path)
	}

	ws.SetState(workspace.IndexIndexing)
	var sum indexSummary
	err := filepath.WalkDir(ws.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != ws.Path {
				return filepath.SkipDir
			}
			return nil
		}
		kind, ok := indexableExt[strings.ToLower(filepath.Ext(name))]
		if !ok {
			return nil
		}
		content, err := readHead(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(ws.Path, path)
		if err != nil {
			rel = path
		}
		sum.Files++
		if _, err := st.Put(store.Entry{Path: rel, Kind: kind, Title: name, Content: content}); err != nil {
			return fmt.Errorf("knowledge: index %s: %w", rel, err)
		}
		sum.Entries++
		sum.Findings += recordFindings(st, rel, content)
		return nil
	})
	if err != nil {
		ws.SetState(workspace.IndexStale)
		return sum, err
	}
	ws.SetState(workspace.IndexReady)
	return sum, nil
}

// recordFindings scans indexed content for marker lines and stores each as
// a pattern entry keyed by its location.
func recordFindings(st *store.Store, rel, content string) int {
	n := 0
	for i, line := range strings.Split(content, "\n") {
		for _, marker := range findingMarkers {
			if !strings.Contains(line, marker) {
				continue
			}
			st.Put(store.Entry{
				Path:    fmt.Sprintf("%s:%d", rel, i+1),
				Kind:    "pattern",
				Title:   marker,
				Content: strings.TrimSpace(line),
			})
			n++
			break
		}
	}
	return n
}

func readHead(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, maxIndexedBytes)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return string(buf[:n]), nil
}
