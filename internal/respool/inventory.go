package respool

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/rwalker-dev/foreman/pkg/models"
)

// Inventory holds the candidate resource list loaded from a YAML file.
// Sessions read a snapshot of the list when cloning workers; the file can
// be edited at runtime and is hot-reloaded via fsnotify. Reloading swaps
// the candidate list only; it never touches the ownership registry, so
// in-flight holders are unaffected.
type Inventory struct {
	path string

	mu        sync.RWMutex
	resources []models.Resource

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// inventoryFile is the on-disk shape of the resource inventory.
type inventoryFile struct {
	Resources []models.Resource `yaml:"resources"`
}

// LoadInventory reads the inventory file at path. A missing file yields an
// empty inventory rather than an error so a fresh install works out of the
// box.
func LoadInventory(path string) (*Inventory, error) {
	inv := &Inventory{path: path, done: make(chan struct{})}
	if err := inv.reload(); err != nil {
		if os.IsNotExist(err) {
			log.Printf("[respool] inventory file %s not found, starting empty", path)
			return inv, nil
		}
		return nil, err
	}
	return inv, nil
}

// Resources returns a copy of the current candidate list.
func (inv *Inventory) Resources() []models.Resource {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]models.Resource, len(inv.resources))
	copy(out, inv.resources)
	return out
}

// Watch starts hot-reloading the inventory file. Call Close to stop.
func (inv *Inventory) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inventory watcher: %w", err)
	}
	if err := watcher.Add(inv.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", inv.path, err)
	}
	inv.watcher = watcher

	go func() {
		for {
			select {
			case <-inv.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := inv.reload(); err != nil {
					log.Printf("[respool] inventory reload failed: %v", err)
					continue
				}
				log.Printf("[respool] inventory reloaded: %d resources", len(inv.Resources()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[respool] inventory watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if one is running.
func (inv *Inventory) Close() error {
	close(inv.done)
	if inv.watcher != nil {
		return inv.watcher.Close()
	}
	return nil
}

// reload parses the file and swaps the candidate list.
func (inv *Inventory) reload() error {
	data, err := os.ReadFile(inv.path)
	if err != nil {
		return err
	}

	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse inventory %s: %w", inv.path, err)
	}
	for i, res := range file.Resources {
		if res.ID == "" {
			return fmt.Errorf("inventory %s: resource %d has no id", inv.path, i)
		}
	}

	inv.mu.Lock()
	inv.resources = file.Resources
	inv.mu.Unlock()
	return nil
}
