package handlers

import (
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/fruitscan/internal/pipeline"
)

type predictRequest struct {
	Image string `json:"image"`
}

type predictionResponse struct {
	RequestID string `json:"request_id"`
	*pipeline.Result
}

const (
	// multipartOverhead is the body allowance for form boundaries and headers.
	multipartOverhead = 1 << 20
	// jsonOverhead covers the envelope and a data URI prefix around the base64 image.
	jsonOverhead = 64 << 10
)

// jsonBodyLimit is the largest JSON body that can carry an image of limit bytes.
func jsonBodyLimit(limit int64) int64 {
	return int64(base64.StdEncoding.EncodedLen(int(limit))) + jsonOverhead
}

func (h *handler) predictJSON(c *gin.Context) {
	bodyLimit := jsonBodyLimit(h.opts.MaxUploadBytes)
	if c.Request.ContentLength > bodyLimit {
		abortWithError(c, http.StatusRequestEntityTooLarge, "image exceeds upload limit", "PAYLOAD_TOO_LARGE")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)

	var req predictRequest
	err := c.ShouldBindJSON(&req)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		abortWithError(c, http.StatusRequestEntityTooLarge, "image exceeds upload limit", "PAYLOAD_TOO_LARGE")
		return
	}
	if err != nil || strings.TrimSpace(req.Image) == "" {
		abortWithError(c, http.StatusBadRequest, "Missing 'image' field", "MISSING_IMAGE")
		return
	}

	requestID, result, err := h.opts.Predictions.PredictPayload(c.Request.Context(), req.Image)
	c.JSON(predictionStatus(err), predictionResponse{RequestID: requestID, Result: result})
}

func (h *handler) predictUpload(c *gin.Context) {
	limit := h.opts.MaxUploadBytes
	if c.Request.ContentLength > limit+multipartOverhead {
		abortWithError(c, http.StatusRequestEntityTooLarge, "image exceeds upload limit", "PAYLOAD_TOO_LARGE")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "image exceeds upload limit", "PAYLOAD_TOO_LARGE")
			return
		}
		abortWithError(c, http.StatusBadRequest, "image file is required", "MISSING_IMAGE")
		return
	}
	if file.Size > limit {
		abortWithError(c, http.StatusRequestEntityTooLarge, "image exceeds upload limit", "PAYLOAD_TOO_LARGE")
		return
	}

	mediaType, _, err := mime.ParseMediaType(file.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		abortWithError(c, http.StatusUnsupportedMediaType, "image content type required", "UNSUPPORTED_MEDIA_TYPE")
		return
	}

	src, err := file.Open()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "unable to open image", "MISSING_IMAGE")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "failed to read image", "SERVER_ERROR")
		return
	}

	requestID, result, err := h.opts.Predictions.Predict(c.Request.Context(), data)
	c.JSON(predictionStatus(err), predictionResponse{RequestID: requestID, Result: result})
}

func predictionStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case pipeline.IsInputError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
