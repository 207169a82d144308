package stores

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/engine"
)

// Recorder writes run history as a run progresses. It implements
// engine.Observer; write failures are logged and never fail the run.
type Recorder struct {
	store  Store
	logger zerolog.Logger

	mu  sync.Mutex
	seq map[string]int
}

// NewRecorder creates a recorder over store.
func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "run-recorder").Logger(),
		seq:    make(map[string]int),
	}
}

// RunStarted records the run with its configuration and seed slots.
func (r *Recorder) RunStarted(ctx context.Context, state *engine.RunState) {
	ctx = context.WithoutCancel(ctx)

	config, err := json.Marshal(state.Config)
	if err != nil {
		config = []byte("{}")
	}

	run := &Run{
		ID:        state.RunID,
		Status:    engine.RunStatusRunning,
		Config:    string(config),
		Slots:     encodeSlots(state.Store.Snapshot()),
		StartedAt: time.Now(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		r.logger.Error().Err(err).Str("run_id", state.RunID).Msg("Failed to record run start")
	}
}

// NodeFinished records a node execution.
func (r *Recorder) NodeFinished(ctx context.Context, runID string, exec engine.NodeExecution) {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	r.seq[runID]++
	seq := r.seq[runID]
	r.mu.Unlock()

	record := &NodeExecution{
		RunID:      runID,
		Seq:        seq,
		Node:       exec.Node,
		Kind:       exec.Kind,
		Iteration:  exec.Iteration,
		StartedAt:  exec.StartedAt,
		DurationMS: exec.Duration.Milliseconds(),
	}
	if exec.Error != "" {
		msg := exec.Error
		record.Error = &msg
	}
	if err := r.store.RecordNodeExecution(ctx, record); err != nil {
		r.logger.Error().Err(err).Str("run_id", runID).Str("node", exec.Node).Msg("Failed to record node execution")
	}
}

// RunFinished records the outcome and the run log.
func (r *Recorder) RunFinished(ctx context.Context, result *engine.RunResult) {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	delete(r.seq, result.RunID)
	r.mu.Unlock()

	completedAt := result.CompletedAt
	run := &Run{
		ID:          result.RunID,
		Status:      result.Status,
		Slots:       encodeSlots(result.Store),
		Iterations:  result.Iterations,
		CompletedAt: &completedAt,
	}
	if f := result.Failure; f != nil {
		node, kind, msg := f.Node, string(f.Kind), f.Message
		if node != "" {
			run.FailedNode = &node
		}
		run.ErrorKind = &kind
		run.Error = &msg
	}
	if err := r.store.FinishRun(ctx, run); err != nil {
		r.logger.Error().Err(err).Str("run_id", result.RunID).Msg("Failed to record run outcome")
	}

	events := make([]*Event, 0, len(result.Log))
	for _, m := range result.Log {
		event := &Event{
			RunID:     result.RunID,
			Level:     m.Level,
			Message:   m.Text,
			CreatedAt: m.Time,
		}
		if m.Node != "" {
			node := m.Node
			event.Node = &node
		}
		events = append(events, event)
	}
	if err := r.store.AppendEvents(ctx, events); err != nil {
		r.logger.Error().Err(err).Str("run_id", result.RunID).Msg("Failed to record run log")
	}
}

func encodeSlots(items map[string]engine.ResourceItem) string {
	records := make([]SlotRecord, 0, len(items))
	for _, key := range sortedItemKeys(items) {
		item := items[key]
		records = append(records, SlotRecord{Key: key, Location: item.Location, Populated: item.Populated})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeSlots parses the slots column of a Run.
func DecodeSlots(run *Run) ([]SlotRecord, error) {
	var records []SlotRecord
	if run.Slots == "" {
		return records, nil
	}
	if err := json.Unmarshal([]byte(run.Slots), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func sortedItemKeys(items map[string]engine.ResourceItem) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
