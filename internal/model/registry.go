package model

// PoolRegistry is the persisted set of known pools and pricing routes for a
// single chain. Map keys are always lowercase addresses; PoolMetadata and
// PricingRoute keep their original checksum-cased address fields, matching
// the teacher's convention of normalizing only at the key/index layer.
//
// Invariants (see spec §3, enforced by AddPool and its addRoute helper
// rather than trusted of callers):
//   - every PricingRoute.Pool is a key of Pools
//   - every pool's two tokens each carry a route back to the other via Pool
//   - no duplicate (pool, base) edge in a token's route list
type PoolRegistry struct {
	Pools         map[string]PoolMetadata   `json:"pools"`
	PricingRoutes map[string][]PricingRoute `json:"pricingRoutes"`
}

// NewPoolRegistry returns an empty, ready-to-use registry.
func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{
		Pools:         make(map[string]PoolMetadata),
		PricingRoutes: make(map[string][]PricingRoute),
	}
}

// AddPool inserts pool metadata and the symmetric pricing-route edges for
// its two tokens, idempotently. It is the only supported way to grow a
// registry so the invariants above always hold afterward.
func (r *PoolRegistry) AddPool(pool PoolMetadata) {
	if r.Pools == nil {
		r.Pools = make(map[string]PoolMetadata)
	}
	if r.PricingRoutes == nil {
		r.PricingRoutes = make(map[string][]PricingRoute)
	}

	key := Lower(pool.Address)
	r.Pools[key] = pool

	t0, t1 := Lower(pool.Token0), Lower(pool.Token1)
	r.addRoute(t0, PricingRoute{Pool: pool.Address, Base: pool.Token1})
	r.addRoute(t1, PricingRoute{Pool: pool.Address, Base: pool.Token0})
}

func (r *PoolRegistry) addRoute(token string, route PricingRoute) {
	existing := r.PricingRoutes[token]
	poolKey := Lower(route.Pool)
	baseKey := Lower(route.Base)
	for _, have := range existing {
		if Lower(have.Pool) == poolKey && Lower(have.Base) == baseKey {
			return
		}
	}
	r.PricingRoutes[token] = append(existing, route)
}

// RoutesFor returns the pricing routes known for a token, or nil.
func (r *PoolRegistry) RoutesFor(token string) []PricingRoute {
	if r.PricingRoutes == nil {
		return nil
	}
	return r.PricingRoutes[Lower(token)]
}

// Pool looks up pool metadata by address.
func (r *PoolRegistry) Pool(address string) (PoolMetadata, bool) {
	if r.Pools == nil {
		return PoolMetadata{}, false
	}
	p, ok := r.Pools[Lower(address)]
	return p, ok
}

// BestRoute picks the route with the highest pool weight, breaking ties by
// lowest pool address (spec §4.8 step 4).
func (r *PoolRegistry) BestRoute(token string) (PricingRoute, PoolMetadata, bool) {
	routes := r.RoutesFor(token)
	var (
		best     PricingRoute
		bestMeta PoolMetadata
		found    bool
	)
	for _, route := range routes {
		meta, ok := r.Pool(route.Pool)
		if !ok {
			continue
		}
		if !found {
			best, bestMeta, found = route, meta, true
			continue
		}
		if meta.Weight > bestMeta.Weight {
			best, bestMeta = route, meta
			continue
		}
		if meta.Weight == bestMeta.Weight && Lower(route.Pool) < Lower(best.Pool) {
			best, bestMeta = route, meta
		}
	}
	return best, bestMeta, found
}
