package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/pipeline"
	"github.com/example/fruitscan/internal/repository"
	"github.com/example/fruitscan/internal/usecase"
)

// MaxUploadSize is the default upload limit for image files.
const MaxUploadSize = 10 << 20

// PredictionService classifies images.
type PredictionService interface {
	Predict(ctx context.Context, data []byte) (string, *pipeline.Result, error)
	PredictPayload(ctx context.Context, payload string) (string, *pipeline.Result, error)
	Ready() bool
}

// AccountService manages accounts.
type AccountService interface {
	Register(ctx context.Context, email, password, name string) (*usecase.Session, error)
	Login(ctx context.Context, email, password string) (*usecase.Session, error)
	Profile(ctx context.Context, userID string) (*repository.User, error)
}

// HistoryService manages saved scans.
type HistoryService interface {
	List(ctx context.Context, userID string) ([]*repository.HistoryEntry, error)
	Add(ctx context.Context, userID string, in usecase.NewHistoryEntry) (*repository.HistoryEntry, error)
	Delete(ctx context.Context, userID, id string) error
	Summary(ctx context.Context, userID string) (*usecase.HistorySummary, error)
}

// Options wires the route handlers. Account and history routes are only
// registered when Accounts and History are set.
type Options struct {
	Predictions    PredictionService
	Accounts       AccountService
	History        HistoryService
	Auth           gin.HandlerFunc
	DatabaseCheck  func(ctx context.Context) error
	MaxUploadBytes int64
	RateLimit      string
	Logger         *zap.Logger
}

type handler struct {
	opts   Options
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, opts Options) error {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{opts: opts, logger: opts.Logger.Named("handlers")}

	router.GET("/health", h.health)

	predict := router.Group("/predict")
	if opts.RateLimit != "" {
		limit, err := RateLimit(opts.RateLimit)
		if err != nil {
			return err
		}
		predict.Use(limit)
	}
	predict.POST("", h.predictJSON)
	predict.POST("/image", h.predictUpload)

	if opts.Accounts == nil || opts.History == nil || opts.Auth == nil {
		return nil
	}

	api := router.Group("/api")
	api.POST("/register", h.register)
	api.POST("/login", h.login)

	protected := api.Group("", opts.Auth)
	protected.GET("/profile", h.profile)
	protected.GET("/history", h.listHistory)
	protected.POST("/history", h.addHistory)
	protected.GET("/history/summary", h.historySummary)
	protected.DELETE("/history/:id", h.deleteHistory)
	return nil
}

func (h *handler) health(c *gin.Context) {
	database := "not_configured"
	if h.opts.DatabaseCheck != nil {
		database = "connected"
		if err := h.opts.DatabaseCheck(c.Request.Context()); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			database = "disconnected"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"model_loaded": h.opts.Predictions.Ready(),
		"database":     database,
	})
}

func abortWithError(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
