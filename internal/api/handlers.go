package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/pilltrail/pilltrail/internal/errors"
	"github.com/pilltrail/pilltrail/internal/medication"
	"github.com/pilltrail/pilltrail/internal/metrics"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   "0.1.0",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics.Prometheus())
}

func (s *Server) handleMetricsJSON(c *fiber.Ctx) error {
	return c.JSON(metrics.CurrentSnapshot())
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	if s.config.Security.AdminPassword != "" && req.Password != s.config.Security.AdminPassword {
		return c.Status(401).JSON(fiber.Map{"error": "invalid password"})
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "default",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(7 * 24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to generate token"})
	}

	return c.JSON(fiber.Map{"token": tokenString})
}

// statusFor maps application error codes to HTTP statuses.
func statusFor(err error) int {
	switch apperrors.GetCode(err) {
	case "MED_001", "GEN_001":
		return 404
	case "MED_002", "GEN_002":
		return 400
	default:
		return 500
	}
}

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("medications")

	if c.QueryBool("active", false) {
		meds, err := s.tracker.ActiveMedications()
		if err != nil {
			s.logger.Error("Failed to list active medications", zap.Error(err))
			return c.Status(500).JSON(fiber.Map{"error": "failed to list medications"})
		}
		return c.JSON(meds)
	}

	meds, err := s.tracker.Medications()
	if err != nil {
		s.logger.Error("Failed to list medications", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to list medications"})
	}
	return c.JSON(meds)
}

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("medications")

	var med medication.Medication
	if err := c.BodyParser(&med); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	if err := s.tracker.AddMedication(&med); err != nil {
		s.logger.Error("Failed to create medication", zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.RecordMedicationCreated()
	return c.Status(201).JSON(med)
}

func (s *Server) handleGetMedication(c *fiber.Ctx) error {
	med, err := s.tracker.Medication(c.Params("id"))
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(med)
}

func (s *Server) handleUpdateMedication(c *fiber.Ctx) error {
	var med medication.Medication
	if err := c.BodyParser(&med); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}
	med.ID = c.Params("id")

	if err := s.tracker.UpdateMedication(&med); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(med)
}

func (s *Server) handleDeleteMedication(c *fiber.Ctx) error {
	if err := s.tracker.DeleteMedication(c.Params("id")); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	metrics.RecordMedicationDeleted()
	return c.SendStatus(204)
}

func (s *Server) handleTakeDose(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("doses")

	med, err := s.tracker.TakeDose(c.Params("id"))
	if err != nil {
		s.logger.Error("Failed to record dose", zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.RecordDose(false)
	return c.JSON(med)
}

func (s *Server) handleSkipDose(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("doses")

	if err := s.tracker.SkipDose(c.Params("id")); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.RecordDose(true)
	return c.SendStatus(204)
}

func (s *Server) handleMedicationRecords(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.tracker.Medication(id); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.tracker.AdherenceRecords(id))
}

func (s *Server) handleMedicationRefill(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("refill")

	id := c.Params("id")
	if _, err := s.tracker.Medication(id); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	pred, ok := s.tracker.RefillPrediction(id)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "no prediction available"})
	}
	return c.JSON(pred)
}

func (s *Server) handleTodayAdherence(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("adherence")
	return c.JSON(s.tracker.TodayAdherence())
}

func (s *Server) handleDayAdherence(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("adherence")

	day, err := time.Parse("2006-01-02", c.Params("date"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "date must be YYYY-MM-DD"})
	}
	return c.JSON(s.tracker.DayAdherence(day))
}

func (s *Server) handleMonthAdherence(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("adherence")

	month, err := time.Parse("2006-01", c.Params("month"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "month must be YYYY-MM"})
	}
	return c.JSON(s.tracker.MonthAdherence(month))
}

func (s *Server) handleStreak(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"streak_days": s.tracker.Streak()})
}

func (s *Server) handleWeeklyProgress(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"weekly_progress": s.tracker.WeeklyProgress()})
}

func (s *Server) handleResetData(c *fiber.Ctx) error {
	if err := s.tracker.ResetAllData(); err != nil {
		s.logger.Error("Data reset failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "data reset failed"})
	}
	return c.JSON(fiber.Map{"status": "reset"})
}

func (s *Server) handleRefillAlerts(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("refill")

	alerts := s.tracker.RefillAlerts()
	metrics.SetRefillAlertsActive(int64(len(alerts)))
	return c.JSON(alerts)
}

func (s *Server) handleRefillRecommendations(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("refill")
	return c.JSON(s.tracker.RefillRecommendations())
}

func (s *Server) handleListInteractions(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("interactions")
	return c.JSON(s.tracker.Interactions())
}

func (s *Server) handleInteractionsForDrug(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("interactions")
	return c.JSON(s.tracker.InteractionsFor(c.Params("drug")))
}

func (s *Server) handleCheckInteractions(c *fiber.Ctx) error {
	metrics.RecordEndpointRequest("interactions")

	if err := s.tracker.RefreshNow(c.Context()); err != nil {
		s.logger.Error("Interaction check failed", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "interaction check failed"})
	}

	found := s.tracker.Interactions()
	metrics.RecordInteractionCheck(len(found))
	return c.JSON(found)
}

func (s *Server) handleDrugProfile(c *fiber.Ctx) error {
	return c.JSON(s.tracker.DrugProfile(c.Context(), c.Params("name")))
}

func (s *Server) handleAlertsWebSocket(c *websocket.Conn) {
	defer c.Close()

	metrics.Default().IncrementActiveConnections()
	defer metrics.Default().DecrementActiveConnections()

	updates, cancel := s.tracker.SubscribeInteractions()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// initial snapshot so a new client does not wait for the next check
	if err := c.WriteJSON(fiber.Map{
		"type":          "snapshot",
		"interactions":  s.tracker.Interactions(),
		"refill_alerts": s.tracker.RefillAlerts(),
	}); err != nil {
		return
	}

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := c.WriteJSON(fiber.Map{
				"type":          "interactions",
				"interactions":  update.Interactions,
				"has_active":    update.HasActive,
				"checked_at":    update.CheckedAt,
				"refill_alerts": s.tracker.RefillAlerts(),
			}); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
