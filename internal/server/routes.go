package server

import (
	"github.com/go-chi/chi/v5"
)

// setupCatalogRoutes configures security and account routes.
func (s *Server) setupCatalogRoutes(r chi.Router) {
	r.Route("/securities", func(r chi.Router) {
		r.Get("/", s.catalog.HandleListSecurities)
		r.Post("/", s.catalog.HandleCreateSecurity)
		r.Delete("/{id}", s.catalog.HandleDeleteSecurity)
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", s.catalog.HandleListAccounts)
		r.Post("/", s.catalog.HandleCreateAccount)
		r.Delete("/{id}", s.catalog.HandleDeleteAccount)
	})
}

// setupLedgerRoutes configures transaction and position routes.
func (s *Server) setupLedgerRoutes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", s.ledger.HandleListTransactions)
		r.Post("/", s.ledger.HandleCreateTransaction)
		r.Get("/{id}", s.ledger.HandleGetTransaction)
		r.Put("/{id}", s.ledger.HandleUpdateTransaction)
		r.Delete("/{id}", s.ledger.HandleDeleteTransaction)
	})

	r.Get("/positions", s.ledger.HandlePositions)
}
