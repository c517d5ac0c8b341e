package ledger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*testEnv, *chi.Mux) {
	env := setupService(t)
	handler := NewHandler(env.service, zerolog.Nop())

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", handler.HandleListTransactions)
			r.Post("/", handler.HandleCreateTransaction)
			r.Get("/{id}", handler.HandleGetTransaction)
			r.Put("/{id}", handler.HandleUpdateTransaction)
			r.Delete("/{id}", handler.HandleDeleteTransaction)
		})
		r.Get("/positions", handler.HandlePositions)
	})
	return env, r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	return m
}

func TestHandleCreateTransaction(t *testing.T) {
	env, r := setupRouter(t)

	w := doJSON(t, r, "POST", "/api/transactions", fmt.Sprintf(
		`{"date": "2024-01-15", "type": "buy", "securityId": %q, "accountId": %q,
		  "quantity": 100, "price": 50, "fees": 10}`,
		env.cadSec.ID, env.account.ID))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeMap(t, w)
	assert.Equal(t, float64(5010), body["acbAfter"])
	assert.Equal(t, float64(50.1), body["acbPerShare"])
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "2024-01-15", body["date"])
}

func TestHandleCreateTransactionBadBody(t *testing.T) {
	_, r := setupRouter(t)
	w := doJSON(t, r, "POST", "/api/transactions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreateTransactionOversell(t *testing.T) {
	env, r := setupRouter(t)

	doJSON(t, r, "POST", "/api/transactions", fmt.Sprintf(
		`{"date": "2024-01-15", "type": "buy", "securityId": %q, "accountId": %q,
		  "quantity": 100, "price": 50}`, env.cadSec.ID, env.account.ID))

	w := doJSON(t, r, "POST", "/api/transactions", fmt.Sprintf(
		`{"date": "2024-02-15", "type": "sell", "securityId": %q, "accountId": %q,
		  "quantity": 150, "price": 60}`, env.cadSec.ID, env.account.ID))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decodeMap(t, w)["error"])
}

func TestHandleCreateTransactionDuplicate(t *testing.T) {
	env, r := setupRouter(t)

	body := fmt.Sprintf(
		`{"externalId": "REF-1", "date": "2024-01-15", "type": "buy",
		  "securityId": %q, "accountId": %q, "quantity": 100, "price": 50}`,
		env.cadSec.ID, env.account.ID)

	first := doJSON(t, r, "POST", "/api/transactions", body)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, r, "POST", "/api/transactions", body)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestHandleUpdateAndGetTransaction(t *testing.T) {
	env, r := setupRouter(t)

	w := doJSON(t, r, "POST", "/api/transactions", fmt.Sprintf(
		`{"date": "2024-01-15", "type": "buy", "securityId": %q, "accountId": %q,
		  "quantity": 100, "price": 50}`, env.cadSec.ID, env.account.ID))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeMap(t, w)["id"].(string)

	upd := doJSON(t, r, "PUT", "/api/transactions/"+id, `{"price": 55}`)
	require.Equal(t, http.StatusOK, upd.Code, upd.Body.String())
	assert.Equal(t, float64(5500), decodeMap(t, upd)["acbAfter"])

	get := doJSON(t, r, "GET", "/api/transactions/"+id, "")
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, float64(55), decodeMap(t, get)["price"])
}

func TestHandleDeleteTransaction(t *testing.T) {
	env, r := setupRouter(t)

	w := doJSON(t, r, "POST", "/api/transactions", fmt.Sprintf(
		`{"date": "2024-01-15", "type": "buy", "securityId": %q, "accountId": %q,
		  "quantity": 100, "price": 50}`, env.cadSec.ID, env.account.ID))
	id := decodeMap(t, w)["id"].(string)

	del := doJSON(t, r, "DELETE", "/api/transactions/"+id, "")
	assert.Equal(t, http.StatusNoContent, del.Code)
	assert.Empty(t, del.Body.String())

	get := doJSON(t, r, "GET", "/api/transactions/"+id, "")
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestHandlePositions(t *testing.T) {
	env, r := setupRouter(t)

	doJSON(t, r, "POST", "/api/transactions", fmt.Sprintf(
		`{"date": "2024-01-15", "type": "buy", "securityId": %q, "accountId": %q,
		  "quantity": 100, "price": 50}`, env.cadSec.ID, env.account.ID))

	w := doJSON(t, r, "GET", "/api/positions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var positions []map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&positions))
	require.Len(t, positions, 1)
	assert.Equal(t, env.cadSec.ID, positions[0]["securityId"])
	assert.Equal(t, float64(5000), positions[0]["acb"])
}

func TestHandleGetUnknownTransaction(t *testing.T) {
	_, r := setupRouter(t)
	w := doJSON(t, r, "GET", "/api/transactions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
