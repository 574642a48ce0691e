package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SeedWatcher watches TrackmapSeedDir (if configured) for new or changed
// track-geometry seed files, so an operator can drop a hand-curated
// baseline path for a circuit without restarting the process. This has
// no teacher analogue; grounded on the pack's other_examples fsnotify
// usage for config/seed directory hot-reload.
type SeedWatcher struct {
	watcher *fsnotify.Watcher
	log     zerolog.Logger
}

// NewSeedWatcher starts watching dir. Returns nil, nil if dir is empty
// (hot-reload is optional).
func NewSeedWatcher(dir string, log zerolog.Logger, onChange func(path string)) (*SeedWatcher, error) {
	if dir == "" {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config: creating seed directory watcher")
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "config: watching seed directory %s", dir)
	}

	sw := &SeedWatcher{watcher: w, log: log.With().Str("component", "seed_watcher").Logger()}
	go sw.loop(onChange)
	return sw, nil
}

func (sw *SeedWatcher) loop(onChange func(path string)) {
	for {
		select {
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				sw.log.Info().Str("path", event.Name).Msg("trackmap seed file changed")
				onChange(event.Name)
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.log.Error().Err(err).Msg("seed directory watch error")
		}
	}
}

// Close stops watching.
func (sw *SeedWatcher) Close() error {
	return sw.watcher.Close()
}
