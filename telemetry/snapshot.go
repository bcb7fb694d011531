package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/swimmers/particle"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot is an immutable copy of the run state: the trajectory table plus
// what is needed to continue the run from the next step.
type Snapshot struct {
	Version int   `json:"version"`
	RNGSeed int64 `json:"rng_seed"`

	Step   int     `json:"step"`    // next step to run
	Time   float64 `json:"time"`    // absolute start time of that step
	NextID uint64  `json:"next_id"` // ID counter

	Live []ParticleState `json:"live"`
	Rows []particle.Row  `json:"rows"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// ParticleState holds one live particle's registry entry.
type ParticleState struct {
	ID       uint64  `json:"id"`
	Release  string  `json:"release"`
	SeedStep int     `json:"seed_step"`
	SeededAt float64 `json:"seeded_at"`
	DriftU   float64 `json:"drift_u"`
	DriftV   float64 `json:"drift_v"`

	Lifetime *LifetimeStats `json:"lifetime,omitempty"`
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	// Build filename
	name := fmt.Sprintf("snapshot_%d", snapshot.Step)
	if snapshot.Bookmark != nil {
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Step, snapshot.Bookmark.Type)
	}
	path := filepath.Join(dir, name+".json")

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}

	return &snapshot, nil
}
