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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all DriftWatch routes with the router.
//
// Description:
//
//	Registers the telemetry, health, admin, and simulation endpoints.
//	The /metrics endpoint serves the given Prometheus gatherer.
//
// Endpoints:
//
//	POST   /v1/telemetry - Ingest one telemetry sample
//	GET    /v1/health/:service_id - Health snapshot for a service
//	GET    /v1/baseline/:service_id - Current baseline for a service
//	GET    /v1/events - Recent drift events (optional service filter)
//	GET    /v1/ingest/stats - Ingestion pipeline counters
//	GET    /v1/system/status - Whole-process status
//	POST   /v1/admin/reset/:service_id - Force a service back to INSUFFICIENT_DATA
//	POST   /v1/simulate - Start a synthetic traffic run
//	GET    /v1/simulate - List active runs
//	DELETE /v1/simulate/:service_id - Stop an active run
//	GET    /health - Liveness probe
//	GET    /metrics - Prometheus metrics
func RegisterRoutes(router *gin.Engine, handlers *Handlers, gatherer prometheus.Gatherer) {
	v1 := router.Group("/v1")
	{
		v1.POST("/telemetry", handlers.HandleIngestTelemetry)
		v1.GET("/health/:service_id", handlers.HandleGetHealth)
		v1.GET("/baseline/:service_id", handlers.HandleGetBaseline)
		v1.GET("/events", handlers.HandleGetEvents)
		v1.GET("/ingest/stats", handlers.HandleIngestStats)
		v1.GET("/system/status", handlers.HandleSystemStatus)
		v1.POST("/admin/reset/:service_id", handlers.HandleResetService)

		v1.POST("/simulate", handlers.HandleStartSimulation)
		v1.GET("/simulate", handlers.HandleListSimulations)
		v1.DELETE("/simulate/:service_id", handlers.HandleStopSimulation)
	}

	router.GET("/health", handlers.HandleHealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
