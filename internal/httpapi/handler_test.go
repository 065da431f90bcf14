package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/events"
	"github.com/estatechain/marketplace/internal/app/services/bank"
	mktsvc "github.com/estatechain/marketplace/internal/app/services/marketplace"
	"github.com/estatechain/marketplace/internal/app/services/offers"
	"github.com/estatechain/marketplace/internal/app/storage/memory"
	"github.com/estatechain/marketplace/internal/logging"
)

func newTestRouter() http.Handler {
	ledger := memory.New()
	eventLog := events.NewRingBuffer(128)
	log := logging.NewNop()

	h := NewHandler(
		mktsvc.New(ledger, eventLog, log),
		offers.New(ledger, eventLog, log),
		bank.New(ledger, log),
		eventLog,
		log,
	)
	return h.Router(Options{RateLimitRPS: 1000, RateLimitBurst: 1000})
}

func doJSON(t *testing.T, router http.Handler, method, path, actor string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMarketplaceFlow(t *testing.T) {
	router := newTestRouter()

	// Initialize a marketplace as "authority".
	rec := doJSON(t, router, http.MethodPost, "/v1/marketplaces", "authority", map[string]interface{}{
		"fee_basis_points": 250,
		"fee_token_mint":   "usd",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create marketplace: status %d, body %s", rec.Code, rec.Body.String())
	}
	var market struct {
		Key string `json:"Key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &market); err != nil {
		t.Fatalf("decode marketplace: %v", err)
	}

	// Seller lists a property.
	rec = doJSON(t, router, http.MethodPost, "/v1/marketplaces/"+market.Key+"/properties", "seller", map[string]interface{}{
		"property_id": "lot-1",
		"price":       1000,
		"location":    "Springfield",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("list property: status %d, body %s", rec.Code, rec.Body.String())
	}
	var prop struct {
		Key string `json:"Key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &prop); err != nil {
		t.Fatalf("decode property: %v", err)
	}

	// Buyer funds their balance and makes an offer.
	rec = doJSON(t, router, http.MethodPost, "/v1/balances/deposits", "buyer", map[string]interface{}{
		"mint":   "usd",
		"amount": 1000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodPost, "/v1/properties/"+prop.Key+"/offers", "buyer", map[string]interface{}{
		"amount":          1000,
		"expiration_time": time.Now().Add(24 * time.Hour).UTC(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("make offer: status %d, body %s", rec.Code, rec.Body.String())
	}

	// Seller accepts: the sale settles.
	rec = doJSON(t, router, http.MethodPost, "/v1/properties/"+prop.Key+"/offers/buyer/response", "seller", map[string]interface{}{
		"accept": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: status %d, body %s", rec.Code, rec.Body.String())
	}
	var settled struct {
		Status string `json:"Status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &settled); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if settled.Status != "completed" {
		t.Fatalf("offer status = %s, want completed", settled.Status)
	}

	// History shows one sale.
	rec = doJSON(t, router, http.MethodGet, "/v1/properties/"+prop.Key+"/history", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status %d", rec.Code)
	}
	var records []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(records))
	}

	// Seller proceeds are withdrawable: 975 after the 2.5% fee.
	rec = doJSON(t, router, http.MethodGet, "/v1/balances/usd", "seller", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: status %d", rec.Code)
	}
	var balance struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Balance != 975 {
		t.Fatalf("seller balance = %d, want 975", balance.Balance)
	}
}

func TestMissingActor(t *testing.T) {
	router := newTestRouter()
	rec := doJSON(t, router, http.MethodPost, "/v1/marketplaces", "", map[string]interface{}{
		"fee_basis_points": 100,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{engine.ErrInvalidFeePercentage, http.StatusBadRequest},
		{engine.ErrArithmeticOverflow, http.StatusBadRequest},
		{engine.ErrNotPropertyOwner, http.StatusForbidden},
		{engine.ErrNotNFTOwner, http.StatusForbidden},
		{engine.ErrPropertyNotFound, http.StatusNotFound},
		{engine.ErrOfferExpired, http.StatusGone},
		{engine.ErrOfferNotPending, http.StatusConflict},
		{engine.ErrInsufficientFunds, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", engine.ErrOfferExists), http.StatusConflict},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInvalidFeeOverHTTP(t *testing.T) {
	router := newTestRouter()
	rec := doJSON(t, router, http.MethodPost, "/v1/marketplaces", "authority", map[string]interface{}{
		"fee_basis_points": 10001,
		"fee_token_mint":   "usd",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
