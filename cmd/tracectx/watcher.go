package main

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const debouncingInterval = 500 * time.Millisecond

// watchFile re-runs extraction whenever the event file changes. The watch is
// on the parent directory because most editors replace the file on save,
// which drops a watch set on the file itself. Changes are debounced so a
// save that produces several filesystem events extracts once.
func watchFile(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorln("Cannot create the event file watcher.", err)
		return err
	}
	defer watcher.Close()

	absolute, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absolute)); err != nil {
		return err
	}
	log.Infoln("Watching for changes:", absolute)

	timer := time.NewTimer(debouncingInterval)
	if !timer.Stop() {
		// drain in case the timer already fired
		<-timer.C
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absolute {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				log.Debugln("FileWatcher got event: ", event)
				timer.Reset(debouncingInterval)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorln("Watcher error:", err)
		case <-timer.C:
			if err := resolveFile(path); err != nil {
				log.Warnln("Extraction failed: ", err)
			}
		}
	}
}
