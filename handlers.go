package main

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"alertbox/pkg/alerts"
	"alertbox/pkg/apperr"
	"alertbox/pkg/filestore"
	"alertbox/pkg/repository"
	"alertbox/pkg/upload"
)

// server holds what the HTTP handlers need.
type server struct {
	db     *gorm.DB
	alerts *alerts.Service
	stage  *upload.Stage
	log    *log.Logger
}

func newServer(db *gorm.DB, fsys afero.Fs, cfg *Config, logger *log.Logger) *server {
	store := filestore.New(fsys, cfg.UploadDirectory, logger)
	repo := repository.New(db, store, logger)
	svc := alerts.NewService(db, repo, store, alerts.Options{
		OwnerID:   uint(cfg.DefaultUserID),
		MaxFiles:  cfg.MaxFilesAllowed,
		TxTimeout: cfg.txTimeout(),
	}, logger)
	return &server{
		db:     db,
		alerts: svc,
		stage:  upload.NewStage(fsys, cfg.uploadConfig(), logger),
		log:    logger,
	}
}

func newRouter(s *server, cfg *Config) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(cfg.CORSOrigin), prometheusMiddleware())
	setupRoutes(r, s)
	return r
}

func setupRoutes(r *gin.Engine, s *server) {
	r.GET("/healthz", s.healthHandler)
	r.GET("/metrics", metricsHandler())

	for _, g := range []*gin.RouterGroup{r.Group("/alerts"), r.Group("/api/alerts")} {
		g.GET("", s.listAlertsHandler)
		g.GET("/:id", s.getAlertHandler)
		g.POST("", s.createAlertHandler)
		g.PUT("/:id", s.updateAlertHandler)
		g.DELETE("/:id", s.deleteAlertHandler)
	}
}

// listAlertsHandler returns every alert of the owning user.
func (s *server) listAlertsHandler(c *gin.Context) {
	items, err := s.alerts.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err, "Failed to fetch alerts")
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) getAlertHandler(c *gin.Context) {
	alert, err := s.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to fetch alert")
		return
	}
	c.JSON(http.StatusOK, alert)
}

// createAlertHandler accepts multipart sender, age, description and files.
func (s *server) createAlertHandler(c *gin.Context) {
	batch, err := s.stage.Intake(c.Request)
	if err != nil {
		s.writeError(c, err, "Failed to create alert")
		return
	}
	committed := false
	defer func() {
		if !committed {
			s.stage.Cleanup(batch.Files)
		}
	}()

	sender, _ := batch.Value("sender")
	age, _ := batch.Value("age")
	alert, err := s.alerts.Create(c.Request.Context(), alerts.CreateInput{
		Sender:      sender,
		Age:         age,
		Description: optional(batch, "description"),
		Files:       batch.Files,
	})
	if err != nil {
		s.writeError(c, err, "Failed to create alert")
		return
	}
	committed = true
	c.JSON(http.StatusCreated, gin.H{"message": "Alert created successfully", "result": alert})
}

// updateAlertHandler applies a partial update. deleteFileIds is a JSON array
// sent as a form field.
func (s *server) updateAlertHandler(c *gin.Context) {
	batch, err := s.stage.Intake(c.Request)
	if err != nil {
		s.writeError(c, err, "Failed to update alert")
		return
	}
	committed := false
	defer func() {
		if !committed {
			s.stage.Cleanup(batch.Files)
		}
	}()

	deleteIDs, _ := batch.Value("deleteFileIds")
	alert, err := s.alerts.Update(c.Request.Context(), c.Param("id"), alerts.UpdateInput{
		Sender:        optional(batch, "sender"),
		Age:           optional(batch, "age"),
		Description:   optional(batch, "description"),
		DeleteFileIDs: deleteIDs,
		Files:         batch.Files,
	})
	if err != nil {
		s.writeError(c, err, "Failed to update alert")
		return
	}
	committed = true
	c.JSON(http.StatusOK, gin.H{"message": "Alert updated successfully", "alert": alert})
}

func (s *server) deleteAlertHandler(c *gin.Context) {
	if err := s.alerts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err, "Failed to delete alert")
		return
	}
	c.Status(http.StatusNoContent)
}

// healthHandler pings the database.
func (s *server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.log.Error("health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps classified errors to their status; anything else is a 500
// carrying the endpoint's generic message.
func (s *server) writeError(c *gin.Context, err error, fallback string) {
	if e, ok := apperr.From(err); ok {
		if e.Status >= http.StatusInternalServerError {
			s.log.Error(e.Message, "path", c.Request.URL.Path, "err", err)
		}
		c.JSON(e.Status, gin.H{"error": e.Message})
		return
	}
	s.log.Error(fallback, "path", c.Request.URL.Path, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}

func optional(b *upload.Batch, key string) *string {
	v, ok := b.Value(key)
	if !ok {
		return nil
	}
	return &v
}
