package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapleledger/mapleledger/internal/database"
)

func healthServer(t *testing.T) (*Server, *database.DB) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file:health_test?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &Server{
		log:       zerolog.Nop(),
		databases: []*database.DB{db},
	}, db
}

func TestHandleHealth(t *testing.T) {
	s, _ := healthServer(t)

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["databases"].(map[string]interface{})["ledger"])
}

func TestHandleHealthDegraded(t *testing.T) {
	s, db := healthServer(t)
	require.NoError(t, db.Close())

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unreachable", body["databases"].(map[string]interface{})["ledger"])
}
