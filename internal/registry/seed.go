package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Seed loads preset spec files (*.yaml, *.yml) from dir into an empty store.
// A non-empty store is left untouched so restarts never duplicate or clobber
// operator-registered specs. Invalid or duplicate presets are logged and
// skipped rather than failing startup.
func Seed(ctx context.Context, store Store, dir string) error {
	n, err := store.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Debug().Int("agents", n).Msg("registry already populated, skipping preset seed")
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("dir", dir).Msg("presets directory not found")
			return nil
		}
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seeded := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("preset", name).Msg("failed to read preset")
			continue
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			log.Warn().Err(err).Str("preset", name).Msg("failed to parse preset")
			continue
		}
		id, version, err := store.Register(ctx, raw)
		if err != nil {
			var dup *ErrVersionExists
			if errors.As(err, &dup) {
				log.Debug().Str("preset", name).Msg("preset already registered")
				continue
			}
			log.Warn().Err(err).Str("preset", name).Msg("invalid preset, skipping")
			continue
		}
		log.Info().Str("agent", id).Str("version", version).Msg("seeded preset")
		seeded++
	}
	log.Info().Int("seeded", seeded).Str("dir", dir).Msg("preset seeding complete")
	return nil
}
