package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/pdb"
)

// Local produces placeholder docking artifacts in-process.
//
// The docking artifact reports one model with a zero affinity; the pose is
// the box's coordinate records. Each artifact is stored through transport
// at output_dir/<key> so a later fetch stage can read it back.
type Local struct {
	transport engine.Transport
	logger    zerolog.Logger
}

// NewLocal creates a local stand-in that stores artifacts through transport.
func NewLocal(transport engine.Transport, logger zerolog.Logger) *Local {
	return &Local{
		transport: transport,
		logger:    logger.With().Str("component", "remote-local").Logger(),
	}
}

// Compute derives artifacts for every requested output key.
func (l *Local) Compute(ctx context.Context, req engine.RemoteRequest) (*engine.RemoteResponse, error) {
	candidate, err := text(req.Inputs[engine.KeyCandidate])
	if err != nil {
		return nil, engine.NewRemoteComputeError("candidate", err)
	}
	if candidate == "" {
		return nil, engine.NewRemoteComputeError("candidate is empty", nil)
	}

	resp := &engine.RemoteResponse{
		Artifacts: make(map[string]any, len(req.OutputKeys)),
		Locations: make(map[string]string, len(req.OutputKeys)),
	}

	for _, key := range req.OutputKeys {
		var artifact string
		switch key {
		case engine.KeyDocking:
			artifact = placeholderDocking(candidate)
		case engine.KeyPose:
			artifact = placeholderPose(candidate, req.Inputs[engine.KeyBox])
		default:
			return nil, engine.NewRemoteComputeError(fmt.Sprintf("unknown artifact %q", key), nil)
		}
		resp.Artifacts[key] = artifact

		if req.OutputDir == "" {
			continue
		}
		loc := engine.JoinLocation(req.OutputDir, key)
		if err := l.transport.Store(ctx, []byte(artifact), loc); err != nil {
			return nil, engine.NewRemoteComputeError("failed to store artifact", err).WithKey(key).WithLocation(loc)
		}
		resp.Locations[key] = loc
	}

	l.logger.Debug().
		Str("node", req.Node).
		Str("output_dir", req.OutputDir).
		Strs("artifacts", sortedKeys(resp.Artifacts)).
		Msg("Local compute produced artifacts")
	return resp, nil
}

func placeholderDocking(candidate string) string {
	var b strings.Builder
	b.WriteString("MODEL 1\n")
	b.WriteString("REMARK VINA RESULT:     0.000      0.000      0.000\n")
	fmt.Fprintf(&b, "REMARK SMILES %s\n", strings.TrimSpace(candidate))
	b.WriteString("ENDMDL\n")
	return b.String()
}

func placeholderPose(candidate string, box any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REMARK placeholder pose for %s\n", strings.TrimSpace(candidate))
	if chunks, ok := box.(pdb.Chunks); ok {
		for _, c := range chunks {
			b.WriteString(c.Content)
			if !strings.HasSuffix(c.Content, "\n") {
				b.WriteString("\n")
			}
		}
	}
	b.WriteString("END\n")
	return b.String()
}

func text(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected text, got %T", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
