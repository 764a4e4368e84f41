package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/pilltrail/pilltrail/internal/metrics"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		metrics.RecordRequest(c.Response().StatusCode() < 400)
		metrics.RecordResponseTime(time.Since(start))
		return err
	})

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", s.handleMetrics)
	s.app.Get("/api/metrics", s.handleMetricsJSON)

	api := s.app.Group("/api")

	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Get("/medications", s.handleListMedications)
	protected.Post("/medications", s.handleCreateMedication)
	protected.Get("/medications/:id", s.handleGetMedication)
	protected.Put("/medications/:id", s.handleUpdateMedication)
	protected.Delete("/medications/:id", s.handleDeleteMedication)

	protected.Post("/medications/:id/take", s.handleTakeDose)
	protected.Post("/medications/:id/skip", s.handleSkipDose)
	protected.Get("/medications/:id/records", s.handleMedicationRecords)
	protected.Get("/medications/:id/refill", s.handleMedicationRefill)

	protected.Get("/adherence/today", s.handleTodayAdherence)
	protected.Get("/adherence/day/:date", s.handleDayAdherence)
	protected.Get("/adherence/month/:month", s.handleMonthAdherence)
	protected.Get("/adherence/streak", s.handleStreak)
	protected.Get("/adherence/weekly", s.handleWeeklyProgress)

	protected.Delete("/data", s.handleResetData)

	protected.Get("/refill/alerts", s.handleRefillAlerts)
	protected.Get("/refill/recommendations", s.handleRefillRecommendations)

	protected.Get("/interactions", s.handleListInteractions)
	protected.Get("/interactions/:drug", s.handleInteractionsForDrug)
	protected.Post("/interactions/check", s.handleCheckInteractions)
	protected.Get("/drugs/:name", s.handleDrugProfile)

	s.app.Get("/ws/alerts", websocket.New(s.handleAlertsWebSocket))
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
