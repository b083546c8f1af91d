// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driftwatch

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/driftwatch/pkg/validation"
	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

// ServiceVersion is the DriftWatch service version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers contains the HTTP handlers for DriftWatch.
type Handlers struct {
	ingest    *IngestionService
	health    *HealthStateManager
	store     store.Store
	simulator *SimulationManager
	startTime time.Time
}

// NewHandlers creates handlers wired to the engine components.
func NewHandlers(ingest *IngestionService, health *HealthStateManager, st store.Store, sim *SimulationManager) *Handlers {
	return &Handlers{
		ingest:    ingest,
		health:    health,
		store:     st,
		simulator: sim,
		startTime: time.Now(),
	}
}

// RegisterValidators installs the custom binding validators on gin's
// validator engine. Call once before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected gin validator engine")
	}
	return v.RegisterValidation("serviceid", func(fl validator.FieldLevel) bool {
		return validation.ValidateServiceID(fl.Field().String()) == nil
	})
}

// HandleIngestTelemetry handles POST /v1/telemetry.
//
// Description:
//
//	Accepts one telemetry sample into the ingestion pipeline. Acceptance
//	is asynchronous: a 202 means the sample is buffered, not yet
//	evaluated.
//
// Request Body:
//
//	TelemetryRequest
//
// Response:
//
//	202 Accepted: IngestResult
//	422 Unprocessable Entity: Validation error
//	503 Service Unavailable: Queue full or shutting down
func (h *Handlers) HandleIngestTelemetry(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIngestTelemetry")

	var req TelemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "INGEST_FAILED"

		if errors.Is(err, ErrValidation) {
			statusCode = http.StatusUnprocessableEntity
			errCode = "VALIDATION_ERROR"
		} else if errors.Is(err, ErrBackpressure) {
			statusCode = http.StatusServiceUnavailable
			errCode = "BACKPRESSURE"
		} else if errors.Is(err, ErrShuttingDown) {
			statusCode = http.StatusServiceUnavailable
			errCode = "SHUTTING_DOWN"
		}

		logger.Warn("Sample rejected", "service_id", req.ServiceID, "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// HandleGetHealth handles GET /v1/health/:service_id.
//
// Description:
//
//	Returns the full health snapshot for one service. Querying an
//	unknown service starts tracking it in INSUFFICIENT_DATA.
//
// Response:
//
//	200 OK: HealthSnapshot
//	422 Unprocessable Entity: Invalid service identifier
//	500 Internal Server Error: Store failure
func (h *Handlers) HandleGetHealth(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetHealth")

	serviceID, err := validation.SanitizeServiceID(c.Param("service_id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_ERROR",
		})
		return
	}

	snap, err := h.health.Snapshot(c.Request.Context(), serviceID)
	if err != nil {
		logger.Error("Snapshot failed", "service_id", serviceID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// HandleGetBaseline handles GET /v1/baseline/:service_id.
//
// Response:
//
//	200 OK: store.BaselineRecord
//	404 Not Found: No baseline established yet
//	422 Unprocessable Entity: Invalid service identifier
func (h *Handlers) HandleGetBaseline(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetBaseline")

	serviceID, err := validation.SanitizeServiceID(c.Param("service_id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_ERROR",
		})
		return
	}

	baseline, err := h.store.GetBaseline(c.Request.Context(), serviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "No baseline established for service",
				Code:  "BASELINE_NOT_FOUND",
			})
			return
		}
		logger.Error("Baseline fetch failed", "service_id", serviceID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "BASELINE_FETCH_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, baseline)
}

// HandleResetService handles POST /v1/admin/reset/:service_id.
//
// Description:
//
//	Forces a service back to INSUFFICIENT_DATA. Idempotent: a second
//	reset writes no additional audit event.
//
// Response:
//
//	200 OK: {status, service_id}
//	422 Unprocessable Entity: Invalid service identifier
func (h *Handlers) HandleResetService(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResetService")

	serviceID, err := validation.SanitizeServiceID(c.Param("service_id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_ERROR",
		})
		return
	}

	if err := h.health.Reset(c.Request.Context(), serviceID); err != nil {
		logger.Error("Reset failed", "service_id", serviceID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RESET_FAILED",
		})
		return
	}

	logger.Info("Service reset", "service_id", serviceID)
	c.JSON(http.StatusOK, gin.H{
		"status":     "reset",
		"service_id": serviceID,
	})
}

// HandleGetEvents handles GET /v1/events.
//
// Description:
//
//	Returns recent drift events newest-first. Optional query parameters:
//	service_id filters to one service, limit caps the result (default
//	50, max 500).
//
// Response:
//
//	200 OK: {events, count}
//	422 Unprocessable Entity: Invalid query parameter
func (h *Handlers) HandleGetEvents(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetEvents")

	serviceID := c.Query("service_id")
	if serviceID != "" {
		sanitized, err := validation.SanitizeServiceID(serviceID)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: err.Error(),
				Code:  "VALIDATION_ERROR",
			})
			return
		}
		serviceID = sanitized
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: "limit must be an integer in [1, 500]",
				Code:  "VALIDATION_ERROR",
			})
			return
		}
		limit = parsed
	}

	events, err := h.store.RecentDriftEvents(c.Request.Context(), serviceID, limit)
	if err != nil {
		logger.Error("Event fetch failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "EVENTS_FETCH_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// HandleIngestStats handles GET /v1/ingest/stats.
func (h *Handlers) HandleIngestStats(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.ingest.Stats())
}

// HandleSystemStatus handles GET /v1/system/status.
//
// Response:
//
//	200 OK: SystemStatus
func (h *Handlers) HandleSystemStatus(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSystemStatus")

	services, err := h.store.MonitoredServiceCount(c.Request.Context())
	if err != nil {
		logger.Error("Service count failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STATUS_FAILED",
		})
		return
	}
	records, err := h.store.TotalTelemetryCount(c.Request.Context())
	if err != nil {
		logger.Error("Telemetry count failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STATUS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, SystemStatus{
		Status:                "operational",
		UptimeSeconds:         time.Since(h.startTime).Seconds(),
		ServicesMonitored:     services,
		TotalTelemetryRecords: records,
		ActiveSimulations:     h.simulator.ActiveCount(),
		Ingestion:             h.ingest.Stats(),
	})
}

// HandleStartSimulation handles POST /v1/simulate.
//
// Request Body:
//
//	SimulationRequest
//
// Response:
//
//	202 Accepted: {status, service_id, mode, total_samples}
//	409 Conflict: Simulation already running for service
//	422 Unprocessable Entity: Validation error
func (h *Handlers) HandleStartSimulation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleStartSimulation")

	var req SimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	total, err := h.simulator.Start(req)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "SIMULATION_FAILED"

		if errors.Is(err, ErrValidation) {
			statusCode = http.StatusUnprocessableEntity
			errCode = "VALIDATION_ERROR"
		} else if errors.Is(err, ErrSimulationRunning) {
			statusCode = http.StatusConflict
			errCode = "SIMULATION_RUNNING"
		}

		logger.Warn("Simulation rejected", "service_id", req.ServiceID, "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":        "started",
		"service_id":    req.ServiceID,
		"mode":          req.Mode,
		"total_samples": total,
	})
}

// HandleListSimulations handles GET /v1/simulate.
func (h *Handlers) HandleListSimulations(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, gin.H{
		"simulations": h.simulator.Active(),
	})
}

// HandleStopSimulation handles DELETE /v1/simulate/:service_id.
//
// Response:
//
//	200 OK: {status, service_id}
//	404 Not Found: No active simulation for service
func (h *Handlers) HandleStopSimulation(c *gin.Context) {
	getOrCreateRequestID(c)

	serviceID := c.Param("service_id")
	if !h.simulator.Stop(serviceID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "No active simulation for service",
			Code:  "SIMULATION_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "stopping",
		"service_id": serviceID,
	})
}

// HandleHealthCheck handles GET /health.
func (h *Handlers) HandleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "driftwatch",
		"version": ServiceVersion,
	})
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
