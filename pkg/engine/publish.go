package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PublishUnit stores one slot's value at a destination.
type PublishUnit struct {
	// Key is the slot whose value is published.
	Key string

	// Destination is the location the value is stored at.
	Destination string

	// Transport performs the store.
	Transport Transport
}

// PublishConfig configures a publish stage.
type PublishConfig struct {
	Units []PublishUnit
}

// PublishNode stores slot values concurrently. It never mutates the store.
type PublishNode struct {
	id    string
	units []PublishUnit
}

// NewPublishNode validates cfg and creates a publish stage.
func NewPublishNode(id string, cfg PublishConfig) (*PublishNode, error) {
	if id == "" {
		return nil, NewInvalidError("publish node requires an id")
	}
	if len(cfg.Units) == 0 {
		return nil, NewInvalidError("publish node requires at least one unit").WithNode(id)
	}

	for _, u := range cfg.Units {
		switch {
		case u.Key == "":
			return nil, NewInvalidError("publish unit requires a key").WithNode(id)
		case u.Destination == "":
			return nil, NewInvalidError("publish unit requires a destination").WithNode(id).WithUnit(u.Key)
		case u.Transport == nil:
			return nil, NewInvalidError("publish unit requires a transport").WithNode(id).WithUnit(u.Key)
		}
	}

	units := make([]PublishUnit, len(cfg.Units))
	copy(units, cfg.Units)
	return &PublishNode{id: id, units: units}, nil
}

// ID returns the node identifier.
func (n *PublishNode) ID() string { return n.id }

// Kind returns NodeKindPublish.
func (n *PublishNode) Kind() NodeKind { return NodeKindPublish }

// Execute encodes every unit's value and stores it at its destination.
func (n *PublishNode) Execute(ctx context.Context, state *RunState) (*RunState, error) {
	logger := zerolog.Ctx(ctx).With().Str("node", n.id).Logger()

	payloads := make([][]byte, len(n.units))
	for i, u := range n.units {
		v, err := state.Store.Value(u.Key)
		if err != nil {
			return state, NewNodeError(n.id, err).WithUnit(u.Key)
		}
		payload, err := EncodeValue(v)
		if err != nil {
			return state, NewNodeError(n.id, err).WithUnit(u.Key)
		}
		payloads[i] = payload
	}

	err := runUnits(ctx, state.Config.MaxParallel, n.units, func(ctx context.Context, i int, u PublishUnit) error {
		start := time.Now()
		if err := storeWithTimeout(ctx, u.Transport, payloads[i], u.Destination, state.Config.TransportTimeout); err != nil {
			return NewNodeError(n.id, err).WithUnit(u.Key)
		}

		logger.Debug().
			Str("unit", u.Key).
			Str("destination", u.Destination).
			Int("bytes", len(payloads[i])).
			Dur("duration", time.Since(start)).
			Msg("Published resource")
		return nil
	})
	if err != nil {
		return state, err
	}

	state.Logf(LogLevelInfo, n.id, "published %d resources", len(n.units))
	return state, nil
}

// EncodeValue converts a slot value to the bytes a transport stores.
// Strings and byte slices pass through, Encoders encode themselves and
// everything else is JSON.
func EncodeValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("cannot encode nil value")
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	case Encoder:
		return val.Encode()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value: %w", err)
		}
		return data, nil
	}
}
