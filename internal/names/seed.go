package names

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// SeedFile is the YAML layout of a names seed:
//
//	buses:
//	  1: "Drums IEM"
//	  2: "Keys Wedge"
//	channels:
//	  1: "Kick"
type SeedFile struct {
	Buses    map[int]string `yaml:"buses"`
	Channels map[int]string `yaml:"channels"`
}

// SyncFromFile upserts every name in the seed file with use_custom
// enabled. Names absent from the file are left alone. Returns the number
// of names written.
func SyncFromFile(ctx context.Context, repo Repository, path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return 0, fmt.Errorf("reading names seed: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parsing names seed: %w", err)
	}

	written := 0
	for _, group := range []struct {
		kind  mixer.NameKind
		names map[int]string
	}{
		{mixer.NameKindBus, seed.Buses},
		{mixer.NameKindChannel, seed.Channels},
	} {
		ids := make([]int, 0, len(group.names))
		for id := range group.names {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		for _, id := range ids {
			if err := repo.SetName(ctx, group.kind, id, group.names[id], true); err != nil {
				return written, fmt.Errorf("seeding %s %d: %w", group.kind, id, err)
			}
			written++
		}
	}
	return written, nil
}
