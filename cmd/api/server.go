package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/karolcichosz/investment-plans-design/internal/app"
	"github.com/karolcichosz/investment-plans-design/internal/model"
	"github.com/karolcichosz/investment-plans-design/internal/service"
)

const userIDHeader = "X-User-Id"

// APIServer handles HTTP requests for plan management.
type APIServer struct {
	planService service.PlanManager
	logger      *slog.Logger
}

// NewAPIServer creates a new API server instance.
func NewAPIServer(planService service.PlanManager, logger *slog.Logger) *APIServer {
	return &APIServer{
		planService: planService,
		logger:      logger,
	}
}

// Routes registers the plan endpoints.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/plans", s.CreatePlan)
	mux.HandleFunc("GET /api/v1/plans", s.ListPlans)
	mux.HandleFunc("GET /api/v1/plans/{planId}", s.GetPlan)
	mux.HandleFunc("GET /health", app.HealthHandler("plan-service"))

	return mux
}

// CreatePlan handles POST /api/v1/plans.
func (s *APIServer) CreatePlan(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)

	var params model.CreatePlanParams
	if err := app.DecodeJSON(r, &params); err != nil {
		app.WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	plan, err := s.planService.CreatePlan(r.Context(), userID, &params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	details, err := s.planService.GetPlan(r.Context(), userID, plan.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	app.WriteJSON(w, http.StatusCreated, details)
}

// GetPlan handles GET /api/v1/plans/{planId}.
func (s *APIServer) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(r.PathValue("planId"))
	if err != nil {
		app.WriteError(w, http.StatusBadRequest, "Invalid plan ID")
		return
	}

	details, err := s.planService.GetPlan(r.Context(), r.Header.Get(userIDHeader), planID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	app.WriteJSON(w, http.StatusOK, details)
}

// ListPlans handles GET /api/v1/plans.
func (s *APIServer) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.planService.ListPlans(r.Context(), r.Header.Get(userIDHeader))
	if err != nil {
		s.writeError(w, err)
		return
	}

	app.WriteJSON(w, http.StatusOK, plans)
}

func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUserIDRequired),
		errors.Is(err, model.ErrInvalidPlanName),
		errors.Is(err, model.ErrInvalidExecutionDay),
		errors.Is(err, model.ErrNoInvestments),
		errors.Is(err, model.ErrInvalidAssetID),
		errors.Is(err, model.ErrInvalidAmount):
		app.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrPlanNotFound):
		app.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrPlanAccessDenied):
		app.WriteError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("plan request failed", slog.String("error", err.Error()))
		app.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
