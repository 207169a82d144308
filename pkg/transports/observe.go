package transports

import (
	"context"
	"time"

	"github.com/updohilo/updohilo/pkg/engine"
)

// Operations reported to an Observer.
const (
	OpFetch = "fetch"
	OpStore = "store"
)

// Observer is notified of every transport call.
type Observer interface {
	TransportCall(scheme, op string, bytes int, duration time.Duration, err error)
}

// instrumented reports calls on an inner transport to an Observer.
type instrumented struct {
	inner    engine.Transport
	observer Observer
}

// Instrument wraps t so every call is reported to obs.
func Instrument(t engine.Transport, obs Observer) engine.Transport {
	if obs == nil {
		return t
	}
	return &instrumented{inner: t, observer: obs}
}

func (i *instrumented) Fetch(ctx context.Context, location string) ([]byte, error) {
	start := time.Now()
	content, err := i.inner.Fetch(ctx, location)
	i.observer.TransportCall(schemeOf(location), OpFetch, len(content), time.Since(start), err)
	return content, err
}

func (i *instrumented) Store(ctx context.Context, content []byte, location string) error {
	start := time.Now()
	err := i.inner.Store(ctx, content, location)
	i.observer.TransportCall(schemeOf(location), OpStore, len(content), time.Since(start), err)
	return err
}

func schemeOf(location string) string {
	if s := Scheme(location); s != "" {
		return s
	}
	return SchemeFile
}
