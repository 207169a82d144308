package transports

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DryRun stands in for every transport in dry mode. Fetch returns mock
// content after Delay; Store only waits and logs.
type DryRun struct {
	delay  time.Duration
	logger zerolog.Logger
}

// NewDryRun creates a dry-run transport.
func NewDryRun(delay time.Duration, logger zerolog.Logger) *DryRun {
	return &DryRun{
		delay:  delay,
		logger: logger.With().Str("component", "dry-run-transport").Logger(),
	}
}

// MockContent returns the dry-run content for location. Coordinate files
// get a single record so they still chunk.
func MockContent(location string) []byte {
	text := fmt.Sprintf("Mock content for %s", location)
	switch strings.ToLower(path.Ext(location)) {
	case ".pdb", ".pdbqt":
		return []byte("ATOM      1  CA  ALA A   1       0.000   0.000   0.000  1.00  0.00           C\nREMARK " + text + "\n")
	}
	return []byte(text)
}

// Fetch waits Delay and returns MockContent(location).
func (d *DryRun) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.logger.Info().Str("location", location).Msg("Dry run: mock fetch")
	return MockContent(location), nil
}

// Store waits Delay and discards content.
func (d *DryRun) Store(ctx context.Context, content []byte, location string) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.logger.Info().
		Str("location", location).
		Int("bytes", len(content)).
		Msg("Dry run: store skipped")
	return nil
}

func (d *DryRun) wait(ctx context.Context) error {
	if d.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
