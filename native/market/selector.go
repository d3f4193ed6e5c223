package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Selector ranks the venues available for a token pair across a fixed set of
// fee tiers and picks the deepest one.
type Selector struct {
	source   VenueSource
	feeTiers []uint32
}

// NewSelector constructs a selector probing the supplied fee tiers in order.
// An empty tier list falls back to DefaultFeeTiers.
func NewSelector(source VenueSource, feeTiers []uint32) *Selector {
	tiers := make([]uint32, 0, len(feeTiers))
	for _, tier := range feeTiers {
		if tier == 0 {
			continue
		}
		tiers = append(tiers, tier)
	}
	if len(tiers) == 0 {
		tiers = append(tiers, DefaultFeeTiers...)
	}
	return &Selector{source: source, feeTiers: tiers}
}

// FeeTiers returns the probed tiers in probe order.
func (s *Selector) FeeTiers() []uint32 {
	if s == nil {
		return nil
	}
	return append([]uint32(nil), s.feeTiers...)
}

// BestRoute scans every configured fee tier and returns the venue with the
// greatest depth. Only a strictly greater depth displaces the incumbent, so a
// tie keeps the earlier (cheaper) tier. Venues with zero depth never qualify.
// ok is false when no tier holds a usable venue.
func (s *Selector) BestRoute(ctx context.Context, tokenIn, tokenOut common.Address) (*Route, bool, error) {
	if s == nil || s.source == nil {
		return nil, false, fmt.Errorf("market: selector not initialised")
	}
	var best *Venue
	for _, tier := range s.feeTiers {
		venue, ok, err := s.source.Venue(ctx, tokenIn, tokenOut, tier)
		if err != nil {
			return nil, false, fmt.Errorf("market: quote tier %d: %w", tier, err)
		}
		if !ok || venue == nil || venue.Depth == nil || venue.Depth.IsZero() {
			continue
		}
		if best == nil || venue.Depth.Cmp(best.Depth) > 0 {
			best = venue.Copy()
			best.FeeTier = tier
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return &Route{TokenIn: tokenIn, TokenOut: tokenOut, Venue: *best}, true, nil
}
