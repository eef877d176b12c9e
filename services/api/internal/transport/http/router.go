package http

import (
	"net/http"

	"go.uber.org/zap"
)

// Services are the application collaborators served over HTTP.
type Services struct {
	Orders   OrderReader
	Payments PaymentAllocator
	Credits  CreditReader
	Tables   TableLister
	Store    StoreHealth
}

type RouterConfig struct {
	AllowedOrigins []string
	// JWTSecret enables bearer token auth when set.
	JWTSecret string
	Logger    *zap.Logger
}

// NewRouter builds the API handler with logging, CORS and operator auth
// applied, outermost first.
func NewRouter(svc Services, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/health", HandleHealth(svc.Store))
	mux.Handle("/orders/", HandleOrders(svc.Orders, svc.Payments, logger))
	mux.Handle("/credits/", HandleGetCredit(svc.Credits, logger))
	mux.Handle("/tables", HandleListTables(svc.Tables, logger))
	mux.Handle("/", NotFoundHandler())

	return RequestLogger(CORS(cfg.AllowedOrigins, OperatorAuth(cfg.JWTSecret, mux)), logger)
}
