// Package httpapi exposes the marketplace engine over REST. The routing
// layer's contract is thin: it resolves the caller identity from the X-Actor
// header, forwards typed arguments to the services, and surfaces engine
// errors as distinguishable status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/events"
	"github.com/estatechain/marketplace/internal/app/services/bank"
	mktsvc "github.com/estatechain/marketplace/internal/app/services/marketplace"
	"github.com/estatechain/marketplace/internal/app/services/offers"
	"github.com/estatechain/marketplace/internal/logging"
	"github.com/estatechain/marketplace/internal/metrics"
	"github.com/estatechain/marketplace/internal/middleware"
)

// Handler bundles the HTTP endpoints over the marketplace services.
type Handler struct {
	marketplace *mktsvc.Service
	offers      *offers.Service
	bank        *bank.Service
	events      events.Logger
	log         *logging.Logger
}

// Options configures the router middleware.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewHandler constructs the handler.
func NewHandler(marketplace *mktsvc.Service, offerSvc *offers.Service, bankSvc *bank.Service, eventLog events.Logger, log *logging.Logger) *Handler {
	return &Handler{
		marketplace: marketplace,
		offers:      offerSvc,
		bank:        bankSvc,
		events:      eventLog,
		log:         log,
	}
}

// Router returns the configured mux router.
func (h *Handler) Router(opts Options) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(h.log))

	limiter := middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, h.log)
	limiter.StartCleanup(10 * time.Minute)
	r.Use(limiter.Handler)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/marketplaces", h.createMarketplace).Methods(http.MethodPost)
	v1.HandleFunc("/marketplaces/{key}", h.getMarketplace).Methods(http.MethodGet)
	v1.HandleFunc("/marketplaces/{key}/properties", h.listProperty).Methods(http.MethodPost)
	v1.HandleFunc("/marketplaces/{key}/properties", h.listProperties).Methods(http.MethodGet)
	v1.HandleFunc("/marketplaces/{key}/withdrawals", h.withdrawFees).Methods(http.MethodPost)
	v1.HandleFunc("/properties/{key}", h.getProperty).Methods(http.MethodGet)
	v1.HandleFunc("/properties/{key}", h.updateProperty).Methods(http.MethodPatch)
	v1.HandleFunc("/properties/{key}/offers", h.makeOffer).Methods(http.MethodPost)
	v1.HandleFunc("/properties/{key}/offers", h.listOffers).Methods(http.MethodGet)
	v1.HandleFunc("/properties/{key}/offers/{buyer}/response", h.respondToOffer).Methods(http.MethodPost)
	v1.HandleFunc("/properties/{key}/history", h.listHistory).Methods(http.MethodGet)
	v1.HandleFunc("/balances/deposits", h.deposit).Methods(http.MethodPost)
	v1.HandleFunc("/balances/withdrawals", h.withdraw).Methods(http.MethodPost)
	v1.HandleFunc("/balances/{mint}", h.balance).Methods(http.MethodGet)
	v1.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)

	return metrics.InstrumentHandler(r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createMarketplace(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var payload struct {
		FeeBasisPoints uint64 `json:"fee_basis_points"`
		FeeTokenMint   string `json:"fee_token_mint"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	m, err := h.marketplace.InitializeMarketplace(r.Context(), actor, payload.FeeBasisPoints, payload.FeeTokenMint)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) getMarketplace(w http.ResponseWriter, r *http.Request) {
	m, err := h.marketplace.GetMarketplace(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) listProperty(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var payload struct {
		PropertyID  string `json:"property_id"`
		Price       uint64 `json:"price"`
		MetadataURI string `json:"metadata_uri"`
		Location    string `json:"location"`
		SquareFeet  uint64 `json:"square_feet"`
		Bedrooms    uint8  `json:"bedrooms"`
		Bathrooms   uint8  `json:"bathrooms"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.marketplace.ListProperty(r.Context(), actor, mux.Vars(r)["key"], mktsvc.ListPropertyInput{
		PropertyID:  payload.PropertyID,
		Price:       payload.Price,
		MetadataURI: payload.MetadataURI,
		Location:    payload.Location,
		SquareFeet:  payload.SquareFeet,
		Bedrooms:    payload.Bedrooms,
		Bathrooms:   payload.Bathrooms,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProperties(w http.ResponseWriter, r *http.Request) {
	properties, err := h.marketplace.ListProperties(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, properties)
}

func (h *Handler) getProperty(w http.ResponseWriter, r *http.Request) {
	p, err := h.marketplace.GetProperty(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) updateProperty(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var payload struct {
		Price       *uint64 `json:"price"`
		MetadataURI *string `json:"metadata_uri"`
		Active      *bool   `json:"active"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.marketplace.UpdateProperty(r.Context(), actor, mux.Vars(r)["key"], property.Update{
		Price:       payload.Price,
		MetadataURI: payload.MetadataURI,
		Active:      payload.Active,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) withdrawFees(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var payload struct {
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	m, err := h.marketplace.WithdrawFees(r.Context(), actor, mux.Vars(r)["key"], payload.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) makeOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var payload struct {
		Amount         uint64    `json:"amount"`
		ExpirationTime time.Time `json:"expiration_time"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.offers.MakeOffer(r.Context(), actor, mux.Vars(r)["key"], payload.Amount, payload.ExpirationTime)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) listOffers(w http.ResponseWriter, r *http.Request) {
	result, err := h.offers.ListOffers(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) respondToOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var payload struct {
		Accept bool `json:"accept"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	vars := mux.Vars(r)
	o, err := h.offers.RespondToOffer(r.Context(), actor, vars["key"], vars["buyer"], payload.Accept)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.marketplace.ListHistory(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var payload struct {
		Mint   string `json:"mint"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	balance, err := h.bank.Deposit(r.Context(), actor, payload.Mint, payload.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": balance})
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var payload struct {
		Mint   string `json:"mint"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	balance, err := h.bank.Withdraw(r.Context(), actor, actor, payload.Mint, payload.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": balance})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	balance, err := h.bank.Balance(r.Context(), actor, mux.Vars(r)["mint"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": balance})
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		n = parsed
	}
	if propertyKey := r.URL.Query().Get("property"); propertyKey != "" {
		writeJSON(w, http.StatusOK, h.events.RecentByProperty(propertyKey, n))
		return
	}
	writeJSON(w, http.StatusOK, h.events.Recent(n))
}

// requireActor resolves the authenticated caller identity. Authentication
// itself happens upstream; the header carries its result.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor identity"))
		return "", false
	}
	return actor, true
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

// statusFor maps the engine's closed error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidFeePercentage),
		errors.Is(err, engine.ErrPropertyIDTooLong),
		errors.Is(err, engine.ErrMetadataURITooLong),
		errors.Is(err, engine.ErrLocationTooLong),
		errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrInvalidOfferAmount),
		errors.Is(err, engine.ErrInvalidExpirationTime),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrArithmeticOverflow):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotPropertyOwner),
		errors.Is(err, engine.ErrNotOfferBuyer),
		errors.Is(err, engine.ErrCannotOfferOwnProperty),
		errors.Is(err, engine.ErrUnauthorizedFeeWithdrawal),
		errors.Is(err, engine.ErrNotNFTOwner),
		errors.Is(err, engine.ErrInvalidTokenAccountMint),
		errors.Is(err, engine.ErrInvalidTokenAccountOwner):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrMarketplaceNotFound),
		errors.Is(err, engine.ErrPropertyNotFound),
		errors.Is(err, engine.ErrOfferNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrOfferExpired):
		return http.StatusGone
	case errors.Is(err, engine.ErrMarketplaceExists),
		errors.Is(err, engine.ErrPropertyExists),
		errors.Is(err, engine.ErrOfferExists),
		errors.Is(err, engine.ErrOfferNotPending),
		errors.Is(err, engine.ErrPropertyNotActive),
		errors.Is(err, engine.ErrOfferPropertyMismatch),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientFeeBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
