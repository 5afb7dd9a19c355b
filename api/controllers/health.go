package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/jordanvale/loanbridge-backend/api/responses"
	"github.com/jordanvale/loanbridge-backend/pkg/config"
	"github.com/jordanvale/loanbridge-backend/pkg/db"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
	"github.com/jordanvale/loanbridge-backend/pkg/redis"
)

const readinessPingTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LoanBridge-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when every hard dependency answers a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LoanBridge-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessPingTimeout)
		defer cancel()

		checks := map[string]string{}
		failed := false

		if dbP != nil {
			if err := dbP.Ping(ctx); err != nil {
				checks["database"] = "down"
				failed = true
				logg.Error(ctx, "readiness: database ping failed", err)
			} else {
				checks["database"] = "ok"
			}
		}
		if redisP != nil {
			if err := redisP.Ping(ctx); err != nil {
				checks["redis"] = "down"
				failed = true
				logg.Error(ctx, "readiness: redis ping failed", err)
			} else {
				checks["redis"] = "ok"
			}
		}

		if failed {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(map[string]any{"checks": checks}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
