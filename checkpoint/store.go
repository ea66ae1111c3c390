package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no checkpoint exists for the query.
var ErrNotFound = errors.New("checkpoint not found")

// Snapshot is one durable checkpoint: a serialized state blob keyed by
// run id, versioned, with a parent chain for history inspection.
type Snapshot struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Version   int             `json:"version"`
	ParentID  string          `json:"parent_id,omitempty"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the durable key→blob backing for checkpoints. The in-memory
// implementation is a drop-in substitute for the Redis and SQL ones;
// orchestrator logic never changes with the backend.
type Store interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context, snapshotID string) (*Snapshot, error)
	LoadLatest(ctx context.Context, runID string) (*Snapshot, error)
	List(ctx context.Context, runID string) ([]*Snapshot, error)
	Delete(ctx context.Context, snapshotID string) error
	DeleteRun(ctx context.Context, runID string) error
}

// Manager serializes run state into snapshots and back, enforcing the
// write-before-resume discipline: a snapshot is written before any
// resumption is attempted, and a snapshot is either applied in full or
// the run is treated as fresh.
type Manager struct {
	store  Store
	logger *zap.Logger
}

// NewManager creates a checkpoint manager.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		logger: logger.With(zap.String("component", "checkpoint_manager")),
	}
}

// SaveState marshals state and writes the next snapshot version for the
// run. Per-run writers are single by construction (one control loop per
// run), so versions never race.
func (m *Manager) SaveState(ctx context.Context, runID string, state any) (*Snapshot, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint state: %w", err)
	}

	version := 1
	parentID := ""
	if latest, lerr := m.store.LoadLatest(ctx, runID); lerr == nil && latest != nil {
		version = latest.Version + 1
		parentID = latest.ID
	}

	snapshot := &Snapshot{
		ID:        fmt.Sprintf("ckpt_%s_v%d", runID, version),
		RunID:     runID,
		Version:   version,
		ParentID:  parentID,
		State:     data,
		CreatedAt: time.Now(),
	}

	if err := m.store.Save(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint saved",
		zap.String("run_id", runID),
		zap.Int("version", version),
	)
	return snapshot, nil
}

// LoadState restores the latest snapshot for a run into out.
// Returns ErrNotFound when the run has no checkpoints; an unmarshalable
// snapshot is an error, never a partial restore.
func (m *Manager) LoadState(ctx context.Context, runID string, out any) (*Snapshot, error) {
	snapshot, err := m.store.LoadLatest(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot.State, out); err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", snapshot.ID, err)
	}

	m.logger.Info("checkpoint restored",
		zap.String("run_id", runID),
		zap.Int("version", snapshot.Version),
	)
	return snapshot, nil
}

// History returns all snapshots for a run.
func (m *Manager) History(ctx context.Context, runID string) ([]*Snapshot, error) {
	return m.store.List(ctx, runID)
}

// Discard deletes all snapshots for a run.
func (m *Manager) Discard(ctx context.Context, runID string) error {
	return m.store.DeleteRun(ctx, runID)
}
