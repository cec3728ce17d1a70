// Package feed holds the external market data collaborators: live tick sources, the candle
// aggregator and the historical tick store.
package feed

import (
	"context"
	"errors"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// ErrMalformedPayload is returned when a feed message cannot be turned into a valid tick
var ErrMalformedPayload = errors.New("feed: malformed payload")

// Source streams validated ticks into out until ctx is cancelled or the source fails permanently
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- types.Tick) error
}

// validate rejects ticks the analytics core must never see
func validate(t types.Tick) error {
	switch {
	case t.Symbol == "":
		return errors.Join(ErrMalformedPayload, errors.New("empty symbol"))
	case t.Price <= 0:
		return errors.Join(ErrMalformedPayload, errors.New("non-positive price"))
	case t.Volume < 0:
		return errors.Join(ErrMalformedPayload, errors.New("negative volume"))
	case t.Timestamp <= 0:
		return errors.Join(ErrMalformedPayload, errors.New("missing timestamp"))
	}
	return nil
}

// emit delivers tick unless ctx is done first
func emit(ctx context.Context, out chan<- types.Tick, tick types.Tick) error {
	select {
	case out <- tick:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
