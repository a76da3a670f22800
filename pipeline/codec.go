package pipeline

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/google/uuid"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/features"
	"railway-accident-analytics/severity"
)

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = 1

// FeaturesPart is the transformer half of a snapshot.
type FeaturesPart struct {
	RunID uuid.UUID
	State features.Snapshot
}

// ModelPart is the model half of a snapshot.
type ModelPart struct {
	RunID uuid.UUID
	Model severity.Snapshot
}

// Snapshot is the persisted form of a Pipeline. Each half carries the run
// it was produced by so halves from different runs cannot be combined.
type Snapshot struct {
	Version   int
	ID        uuid.UUID
	TrainedAt time.Time
	Features  FeaturesPart
	Model     ModelPart
}

// Snapshot exports p.
func (p *Pipeline) Snapshot() (Snapshot, error) {
	if !p.Trained() {
		return Snapshot{}, accident.ErrNotTrained
	}
	return Snapshot{
		Version:   SnapshotVersion,
		ID:        p.id,
		TrainedAt: p.trainedAt,
		Features:  FeaturesPart{RunID: p.id, State: p.state.Snapshot()},
		Model:     ModelPart{RunID: p.id, Model: p.model.Snapshot()},
	}, nil
}

// Restore rebuilds a Pipeline from a snapshot.
func Restore(snap Snapshot) (*Pipeline, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Features.RunID != snap.ID || snap.Model.RunID != snap.ID {
		return nil, fmt.Errorf("run %s: features from %s, model from %s: %w",
			snap.ID, snap.Features.RunID, snap.Model.RunID, ErrMismatchedPipeline)
	}

	state, err := features.Restore(snap.Features.State)
	if err != nil {
		return nil, fmt.Errorf("restore features: %w", err)
	}
	model, err := severity.RestoreModel(snap.Model.Model)
	if err != nil {
		return nil, fmt.Errorf("restore model: %w", err)
	}
	if model.Width() != state.Width() {
		return nil, fmt.Errorf("model expects %d columns, transformer produces %d: %w",
			model.Width(), state.Width(), ErrMismatchedPipeline)
	}
	return &Pipeline{id: snap.ID, trainedAt: snap.TrainedAt, state: state, model: model}, nil
}

// MarshalBinary gob-encodes the pipeline snapshot.
func (p *Pipeline) MarshalBinary() ([]byte, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces p with the decoded pipeline. It is only meant for
// a freshly declared value; published handles must not be reused.
func (p *Pipeline) UnmarshalBinary(data []byte) error {
	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	restored, err := Restore(snap)
	if err != nil {
		return err
	}
	*p = *restored
	return nil
}

// Decode is UnmarshalBinary into a new Pipeline.
func Decode(data []byte) (*Pipeline, error) {
	p := new(Pipeline)
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}
