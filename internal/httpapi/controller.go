// Package httpapi exposes the Snapshot Service over HTTP via gorilla/mux
// (spec §4.11, §6), the same router library the pack's query-service
// controllers are built on.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dexaggregator/internal/model"
	"dexaggregator/internal/snapshot"
	"dexaggregator/internal/storage"
)

// DefaultLimit and MaxLimit are the pagination defaults/bounds spec §6
// assigns to the snapshot endpoint.
const (
	DefaultOffset = 0
	DefaultLimit  = 25
	MaxLimit      = 100
)

// RegistryChain names the Storage and chainId a chain's persisted registry
// is keyed by, for the operational registry-inspection endpoint.
type RegistryChain struct {
	ChainID int
	Store   storage.Storage
}

// Controller wires the Snapshot Service into gorilla/mux handlers.
type Controller struct {
	service  *snapshot.Service
	registry map[string]RegistryChain
	logger   *zap.Logger
}

// NewController returns a new Controller over service. registry supplies
// the per-chain Storage backing the operational /api/registry/{chain}
// endpoint (spec §4.11); it may be nil or incomplete — chains missing from
// it simply answer 404 on that one endpoint.
func NewController(service *snapshot.Service, registry map[string]RegistryChain, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{service: service, registry: registry, logger: logger}
}

// NewRouter returns a new router with every route this controller serves.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshots/{chain}", c.HandleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/registry/{chain}", c.HandleRegistry).Methods(http.MethodGet)

	return r
}

// HandleHealth answers a trivial liveness check.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSnapshot serves GET /api/snapshots/{chain}?offset=&limit= (spec §6).
func (c *Controller) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	chainName := mux.Vars(r)["chain"]

	offset, limit := parsePagination(r)

	snap, err := c.service.GetSnapshot(r.Context(), chainName, offset, limit)
	if err != nil {
		if errors.Is(err, model.ErrChainNotSupported) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Chain not supported"})
			return
		}
		c.logger.Error("snapshot request failed", zap.String("chain", chainName), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// HandleRegistry serves GET /api/registry/{chain}: an operational,
// additive endpoint (not in spec.md's client-facing contract) reporting the
// pool/route counts of a chain's persisted registry, loaded via Storage, for the
// same kind of operator visibility the teacher's run-summary logs give
// (spec §4.11).
func (c *Controller) HandleRegistry(w http.ResponseWriter, r *http.Request) {
	chainName := model.Lower(mux.Vars(r)["chain"])

	rc, ok := c.registry[chainName]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Chain not supported"})
		return
	}

	reg, err := rc.Store.GetPoolRegistry(rc.ChainID)
	if err != nil {
		c.logger.Error("registry lookup failed", zap.String("chain", chainName), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		return
	}

	byDexType := map[model.DexType]int{}
	for _, pool := range reg.Pools {
		byDexType[pool.DexType]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":     chainName,
		"poolCount": len(reg.Pools),
		"routeCount": func() int {
			n := 0
			for _, routes := range reg.PricingRoutes {
				n += len(routes)
			}
			return n
		}(),
		"byDexType": byDexType,
	})
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset = DefaultOffset
	limit = DefaultLimit

	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			limit = parsed
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return offset, limit
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
