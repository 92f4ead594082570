// In-memory central authority for appliance development. Serves the sync
// agent's endpoints with a permissive license so a Pi image can be pointed
// at a workstation instead of the production server.
//
// Usage: go run ./cmd/central-dev --addr 127.0.0.1:8080
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/MLeprich/stabsstelle-pi-deploy/testutil"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	validUntil := flag.String("valid-until", "2099-12-31", "expiry issued with granted licenses")
	tier := flag.String("tier", "professional", "license tier to grant")
	apiKey := flag.String("api-key", "", "api_key issued by legacy registration (default: generated)")
	flag.Parse()

	if *apiKey == "" {
		*apiKey = uuid.NewString()
	}

	authority := testutil.NewAuthority()

	grant := testutil.DefaultGrant()
	grant.ValidUntil = *validUntil
	grant.Tier = *tier
	authority.SetGrant(grant)
	authority.SetAPIKey(*apiKey)

	logger := slog.Default()
	logger.Info("central-dev authority listening",
		slog.String("addr", *addr),
		slog.String("valid_until", *validUntil),
		slog.String("api_key", *apiKey),
	)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(authority.Handler(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "central-dev: %v\n", err)
		os.Exit(1)
	}
}

// logRequests logs every request before handing it to the authority.
func logRequests(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r)
	})
}
