package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/factory"
	"github.com/CptDat9/loomix-vault-factory/internal/metrics"
	"github.com/CptDat9/loomix-vault-factory/internal/recorder"
	"github.com/CptDat9/loomix-vault-factory/internal/vault"
)

// CallerHeader carries the principal a request acts as. Authentication is
// done upstream; the vault only checks roles.
const CallerHeader = "X-Caller"

// Config captures the dependencies required to construct the server.
type Config struct {
	Factory  *factory.Factory
	Recorder recorder.Recorder
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Server exposes the factory and its vaults over HTTP.
type Server struct {
	Factory  *factory.Factory
	Recorder recorder.Recorder
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	router http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	srv := &Server{
		Factory:  cfg.Factory,
		Recorder: cfg.Recorder,
		Metrics:  cfg.Metrics,
		Logger:   cfg.Logger,
	}
	if srv.Recorder == nil {
		srv.Recorder = recorder.NewNoopRecorder()
	}
	if srv.Logger == nil {
		srv.Logger = zap.NewNop()
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Route("/api/v1/vaults", func(api chi.Router) {
		api.Get("/", s.ListVaults)
		api.With(requireCaller).Post("/", s.CreateVault)
		api.Get("/index/{index}", s.GetVaultByIndex)

		api.Route("/{vaultID}", func(vr chi.Router) {
			vr.Get("/", s.GetVault)
			vr.Get("/queue", s.GetQueue)
			vr.Get("/strategies", s.ListStrategies)
			vr.Get("/strategies/{strategyID}", s.GetStrategy)
			vr.Get("/balances/{owner}", s.GetBalance)
			vr.Get("/convert", s.Convert)
			vr.Get("/roles/{role}/{account}", s.HasRole)
			vr.Get("/reports", s.ListReports)
			vr.Get("/debt-updates", s.ListDebtUpdates)
			vr.Get("/flows", s.ListFlows)

			vr.Group(func(mut chi.Router) {
				mut.Use(requireCaller)
				mut.Post("/strategies", s.AddStrategy)
				mut.Delete("/strategies/{strategyID}", s.RevokeStrategy)
				mut.Put("/strategies/{strategyID}/max-debt", s.UpdateMaxDebt)
				mut.Post("/strategies/{strategyID}/debt", s.UpdateDebt)
				mut.Post("/strategies/{strategyID}/report", s.ProcessReport)
				mut.Put("/queue", s.SetQueue)
				mut.Put("/auto-allocate", s.SetAutoAllocate)
				mut.Put("/profit-unlock", s.SetProfitUnlock)
				mut.Put("/deposit-limit", s.SetDepositLimit)
				mut.Post("/roles", s.GrantRole)
				mut.Delete("/roles/{role}/{account}", s.RevokeRole)
				mut.Post("/deposit", s.Deposit)
				mut.Post("/redeem", s.Redeem)
			})
		})
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(CallerHeader)) == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing "+CallerHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(CallerHeader))
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// statusFor maps a failure to an HTTP status and a kind label.
func statusFor(err error) (int, string) {
	if errors.Is(err, factory.ErrVaultNotFound) {
		return http.StatusNotFound, "not_found"
	}
	if errors.Is(err, vault.ErrUnknownStrategy) {
		return http.StatusNotFound, "not_found"
	}
	kind := vault.KindOf(err)
	switch kind {
	case vault.KindValidation:
		return http.StatusBadRequest, kind.String()
	case vault.KindAuthorization:
		return http.StatusForbidden, kind.String()
	case vault.KindCapacity:
		return http.StatusConflict, kind.String()
	case vault.KindLossLimit:
		return http.StatusUnprocessableEntity, kind.String()
	case vault.KindExternal:
		return http.StatusBadGateway, kind.String()
	default:
		return http.StatusInternalServerError, kind.String()
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("kind", kind),
			zap.Error(err))
	}
	writeError(w, status, kind, err.Error())
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadPayload
	}
	return nil
}

var errBadPayload = errors.New("invalid payload")

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "validation", msg)
}
