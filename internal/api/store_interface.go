package api

import "github.com/feedbacktome/feedbacktome/internal/services"

// Store is the full persistence surface the HTTP layer wires the services
// against. The SQLite store implements it for production; the in-memory
// store backs dev mode and tests.
type Store interface {
	services.AuthStore
	services.ProcessStore
	services.SubmissionStore
	services.AggregateStore
}
