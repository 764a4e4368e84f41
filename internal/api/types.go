package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pilltrail/pilltrail/internal/config"
	"github.com/pilltrail/pilltrail/internal/tracker"
)

type Server struct {
	app     *fiber.App
	config  *config.Config
	tracker *tracker.Tracker
	logger  *zap.Logger
}

func New(cfg *config.Config, tr *tracker.Tracker, logger *zap.Logger) *Server {
	readTimeout := cfg.Server.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30
	}
	writeTimeout := cfg.Server.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		tracker: tr,
		logger:  logger,
	}

	s.setupRoutes()
	return s
}
