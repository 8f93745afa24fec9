package router

import (
	"net/http"

	"github.com/neuroscan/backend/internal/auth"
	"github.com/neuroscan/backend/internal/dashboard"
	"github.com/neuroscan/backend/internal/jobs"
	"github.com/neuroscan/backend/internal/ledger"
)

// New returns an http.Handler that serves the API under /api/v1.
func New(authHandler *auth.Handler, jobsHandler *jobs.Handler, ledgerHandler *ledger.Handler, dashHandler *dashboard.Handler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc("POST "+base+"/auth/register", authHandler.Register)
	mux.HandleFunc("POST "+base+"/auth/login", authHandler.Login)

	mux.HandleFunc("POST "+base+"/predict", jobsHandler.SubmitImage)
	mux.HandleFunc("POST "+base+"/predict/3d-scan", jobsHandler.SubmitScan)
	mux.HandleFunc("GET "+base+"/jobs/{id}", jobsHandler.GetJob)
	mux.HandleFunc("GET "+base+"/jobs", dashHandler.ListJobs)
	mux.HandleFunc("GET "+base+"/account/me", dashHandler.GetMe)

	mux.HandleFunc("GET "+base+"/balance", ledgerHandler.GetBalance)
	mux.HandleFunc("POST "+base+"/balance/topup", ledgerHandler.TopUp)
	mux.HandleFunc("GET "+base+"/transactions", ledgerHandler.ListTransactions)

	return mux
}
