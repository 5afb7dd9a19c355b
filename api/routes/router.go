package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jordanvale/loanbridge-backend/api/controllers"
	"github.com/jordanvale/loanbridge-backend/api/middleware"
	"github.com/jordanvale/loanbridge-backend/internal/lifecycle"
	"github.com/jordanvale/loanbridge-backend/internal/loans"
	"github.com/jordanvale/loanbridge-backend/internal/transactions"
	"github.com/jordanvale/loanbridge-backend/pkg/config"
	"github.com/jordanvale/loanbridge-backend/pkg/db"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
	"github.com/jordanvale/loanbridge-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	loanService *loans.Service,
	ledger *transactions.Ledger,
	lifecycleService *lifecycle.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	// avoid handing typed-nil interfaces to the health and idempotency layers
	var redisP redis.Pinger
	var idemStore redis.IdempotencyStore
	if redisClient != nil {
		redisP = redisClient
		idemStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/loans", func(r chi.Router) {
			r.Post("/", controllers.LoanCreate(loanService, logg))
			r.Get("/", controllers.LoanList(loanService, logg))
			r.Route("/{loanId}", func(r chi.Router) {
				r.Get("/", controllers.LoanDetail(loanService, logg))
				r.Get("/transactions", controllers.LoanTransactions(loanService, ledger, logg))
				r.Post("/disbursement", controllers.DisbursementRequest(lifecycleService, logg))
				r.Post("/collections", controllers.CollectionRequest(lifecycleService, logg))
			})
		})

		r.Route("/transactions/{transactionId}", func(r chi.Router) {
			r.Get("/", controllers.TransactionDetail(lifecycleService, logg))
			r.Post("/authorize", controllers.TransactionAuthorize(lifecycleService, logg))
			r.Post("/confirm", controllers.TransactionConfirm(lifecycleService, logg))
			r.Post("/cancel", controllers.TransactionCancel(lifecycleService, logg))
		})
	})

	return r
}
