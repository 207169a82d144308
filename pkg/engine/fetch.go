package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FetchUnit retrieves one slot's content and transforms it.
type FetchUnit struct {
	// Key is the slot whose location is fetched and whose value is set.
	Key string

	// Transport retrieves the raw content.
	Transport Transport

	// Transform converts the raw content into the slot value.
	Transform IntraMorphism
}

// FetchConfig configures a fetch stage.
type FetchConfig struct {
	Units []FetchUnit
}

// FetchNode fetches and transforms independent slots concurrently.
type FetchNode struct {
	id    string
	units []FetchUnit
}

// NewFetchNode validates cfg and creates a fetch stage.
func NewFetchNode(id string, cfg FetchConfig) (*FetchNode, error) {
	if id == "" {
		return nil, NewInvalidError("fetch node requires an id")
	}
	if len(cfg.Units) == 0 {
		return nil, NewInvalidError("fetch node requires at least one unit").WithNode(id)
	}

	seen := make(map[string]bool, len(cfg.Units))
	for _, u := range cfg.Units {
		switch {
		case u.Key == "":
			return nil, NewInvalidError("fetch unit requires a key").WithNode(id)
		case seen[u.Key]:
			return nil, NewInvalidError("duplicate fetch unit").WithNode(id).WithUnit(u.Key)
		case u.Transport == nil:
			return nil, NewInvalidError("fetch unit requires a transport").WithNode(id).WithUnit(u.Key)
		case u.Transform == nil:
			return nil, NewInvalidError("fetch unit requires a transform").WithNode(id).WithUnit(u.Key)
		}
		seen[u.Key] = true
	}

	units := make([]FetchUnit, len(cfg.Units))
	copy(units, cfg.Units)
	return &FetchNode{id: id, units: units}, nil
}

// ID returns the node identifier.
func (n *FetchNode) ID() string { return n.id }

// Kind returns NodeKindFetch.
func (n *FetchNode) Kind() NodeKind { return NodeKindFetch }

// Keys returns the slots this stage sets.
func (n *FetchNode) Keys() []string {
	keys := make([]string, len(n.units))
	for i, u := range n.units {
		keys[i] = u.Key
	}
	return keys
}

// Execute fetches every unit concurrently and sets the transformed values.
// Values are written only after all units succeed.
func (n *FetchNode) Execute(ctx context.Context, state *RunState) (*RunState, error) {
	logger := zerolog.Ctx(ctx).With().Str("node", n.id).Logger()

	locations := make([]string, len(n.units))
	for i, u := range n.units {
		loc, err := state.Store.Location(u.Key)
		if err != nil {
			return state, NewNodeError(n.id, err).WithUnit(u.Key)
		}
		locations[i] = loc
	}

	values := make([]any, len(n.units))
	err := runUnits(ctx, state.Config.MaxParallel, n.units, func(ctx context.Context, i int, u FetchUnit) error {
		start := time.Now()
		content, err := fetchWithTimeout(ctx, u.Transport, locations[i], state.Config.TransportTimeout)
		if err != nil {
			return NewNodeError(n.id, err).WithUnit(u.Key)
		}

		value, err := u.Transform(content)
		if err != nil {
			return NewNodeError(n.id, err).WithUnit(u.Key).WithCode(ErrCodeMorphismFailed)
		}
		values[i] = value

		logger.Debug().
			Str("unit", u.Key).
			Str("location", locations[i]).
			Int("bytes", len(content)).
			Dur("duration", time.Since(start)).
			Msg("Fetched resource")
		return nil
	})
	if err != nil {
		return state, err
	}

	for i, u := range n.units {
		if err := state.Store.Set(u.Key, values[i]); err != nil {
			return state, NewNodeError(n.id, err).WithUnit(u.Key)
		}
	}
	state.Logf(LogLevelInfo, n.id, "fetched %d resources", len(n.units))

	return state, nil
}

func fetchWithTimeout(ctx context.Context, t Transport, location string, timeout time.Duration) ([]byte, error) {
	content, err := callWithTimeout(ctx, timeout, func(ctx context.Context) ([]byte, error) {
		return t.Fetch(ctx, location)
	})
	if err != nil {
		return nil, classifyTransportError("fetch", location, timeout, err)
	}
	return content, nil
}

func storeWithTimeout(ctx context.Context, t Transport, content []byte, location string, timeout time.Duration) error {
	_, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.Store(ctx, content, location)
	})
	if err != nil {
		return classifyTransportError("store", location, timeout, err)
	}
	return nil
}

func classifyTransportError(op, location string, timeout time.Duration, err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Kind == KindTransport {
		return engineErr
	}

	e := NewTransportError(op, location, err)
	if errors.Is(err, context.DeadlineExceeded) {
		e.Message = fmt.Sprintf("transport %s timed out after %s", op, timeout)
		e.WithCode(ErrCodeTimeout)
	}
	return e
}
