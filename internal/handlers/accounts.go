package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/auth"
	"github.com/example/fruitscan/internal/repository"
	"github.com/example/fruitscan/internal/usecase"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type historyRequest struct {
	Fruit          string  `json:"fruit"`
	Label          string  `json:"label"`
	Score          float64 `json:"score"`
	PreviewDataURL string  `json:"previewDataUrl"`
}

type historyResponse struct {
	ID             string  `json:"id"`
	Fruit          string  `json:"fruit"`
	Label          string  `json:"label"`
	Score          float64 `json:"score"`
	PreviewDataURL string  `json:"previewDataUrl,omitempty"`
	CreatedAt      int64   `json:"createdAt"`
}

func newUserResponse(u *repository.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

func newHistoryResponse(e *repository.HistoryEntry) historyResponse {
	return historyResponse{
		ID:             e.ID,
		Fruit:          e.Fruit,
		Label:          e.Label,
		Score:          e.Score,
		PreviewDataURL: e.PreviewDataURL,
		CreatedAt:      e.CreatedAt.UnixMilli(),
	}
}

func (h *handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Email and password required", usecase.CodeMissingFields)
		return
	}

	session, err := h.opts.Accounts.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.accountError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":      true,
		"access_token": session.AccessToken,
		"user":         newUserResponse(session.User),
	})
}

func (h *handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Email and password required", usecase.CodeMissingFields)
		return
	}

	session, err := h.opts.Accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"access_token": session.AccessToken,
		"user":         newUserResponse(session.User),
	})
}

func (h *handler) profile(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	user, err := h.opts.Accounts.Profile(c.Request.Context(), userID)
	if err != nil {
		h.accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

func (h *handler) listHistory(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	entries, err := h.opts.History.List(c.Request.Context(), userID)
	if err != nil {
		h.serverError(c, "failed to list history", err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newHistoryResponse(e))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) addHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid history entry", "INVALID_ENTRY")
		return
	}

	userID, _ := auth.GetUserID(c.Request.Context())
	entry, err := h.opts.History.Add(c.Request.Context(), userID, usecase.NewHistoryEntry{
		Fruit:          req.Fruit,
		Label:          req.Label,
		Score:          req.Score,
		PreviewDataURL: req.PreviewDataURL,
	})
	if errors.Is(err, usecase.ErrInvalidHistoryEntry) {
		abortWithError(c, http.StatusBadRequest, err.Error(), "INVALID_ENTRY")
		return
	}
	if err != nil {
		h.serverError(c, "failed to save history entry", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": entry.ID, "message": "Entry saved"})
}

func (h *handler) deleteHistory(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	err := h.opts.History.Delete(c.Request.Context(), userID, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "Entry not found", "NOT_FOUND")
		return
	}
	if err != nil {
		h.serverError(c, "failed to delete history entry", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Entry deleted"})
}

func (h *handler) historySummary(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	summary, err := h.opts.History.Summary(c.Request.Context(), userID)
	if err != nil {
		h.serverError(c, "failed to summarize history", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) accountError(c *gin.Context, err error) {
	var accErr *usecase.AccountError
	if !errors.As(err, &accErr) {
		h.serverError(c, "account operation failed", err)
		return
	}

	status := http.StatusBadRequest
	switch accErr.Code {
	case usecase.CodeInvalidCredentials:
		status = http.StatusUnauthorized
	case usecase.CodeUserNotFound:
		status = http.StatusNotFound
	case usecase.CodeDatabaseError, usecase.CodeServerError:
		status = http.StatusInternalServerError
	}
	abortWithError(c, status, accErr.Message, accErr.Code)
}

func (h *handler) serverError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	abortWithError(c, http.StatusInternalServerError, message, usecase.CodeDatabaseError)
}
