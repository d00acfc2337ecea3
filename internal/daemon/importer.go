package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/folderpath"
)

// importEntry is one bookmark in the watched import file, a JSON array of
// these records. Folder is a path relative to the sync folder.
type importEntry struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Folder string `json:"folder"`
}

// watchImportFile watches the directory of the configured import file.
// Watching the directory instead of the file survives editors and browsers
// that replace the file on write.
func (d *Daemon) watchImportFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create import watcher: %w", err)
	}

	dir := filepath.Dir(d.config.ImportFile)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch import directory %s: %w", dir, err)
	}

	d.config.Logger.Printf("Watching import file %s", d.config.ImportFile)

	d.wg.Add(1)
	go d.importLoop(watcher)
	return nil
}

// importLoop debounces write bursts on the import file and runs one import
// per settled burst.
func (d *Daemon) importLoop(watcher *fsnotify.Watcher) {
	defer d.wg.Done()
	defer watcher.Close()

	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-d.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != d.config.ImportFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(d.config.DebounceInterval, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Warning: import watcher error: %v", err)

		case <-pending:
			if err := d.runImport(d.ctx); err != nil {
				d.config.Logger.Printf("Warning: import failed: %v", err)
			}
		}
	}
}

// runImport reads the import file and creates its bookmarks under the sync
// folder. Tree events are suppressed for the duration; the whole batch is
// pushed in one pass afterwards.
func (d *Daemon) runImport(ctx context.Context) error {
	data, err := os.ReadFile(d.config.ImportFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read import file: %w", err)
	}

	var entries []importEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse import file: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	syncFolder, err := d.engine.EnsureSyncFolder(ctx)
	if err != nil {
		return err
	}

	var imported, skipped int
	err = d.engine.State().With(engine.FlagImporting, func() error {
		for _, entry := range entries {
			if strings.TrimSpace(entry.URL) == "" || strings.TrimSpace(entry.Title) == "" {
				skipped++
				continue
			}

			parentID, err := folderpath.Resolve(ctx, d.tree, syncFolder.ID, entry.Folder, d.config.SyncFolderTitle, d.config.Logger)
			if err != nil {
				skipped++
				d.config.Logger.Printf("Warning: failed to resolve import folder %q: %v", entry.Folder, err)
				continue
			}
			if _, err := d.tree.Create(ctx, parentID, entry.Title, entry.URL); err != nil {
				skipped++
				d.config.Logger.Printf("Warning: failed to import %q: %v", entry.Title, err)
				continue
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.config.Logger.Printf("Imported %d bookmarks, skipped %d", imported, skipped)
	d.markDirty()

	if imported > 0 {
		if err := d.engine.PushLocal(ctx); err != nil {
			d.config.Logger.Printf("Warning: failed to push imported bookmarks: %v", err)
		}
	}
	return nil
}
