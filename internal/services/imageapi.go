package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"go.uber.org/zap"
)

// ImageRequest is the body of an image generation call.
type ImageRequest struct {
	Prompt string `json:"prompt"`
}

// ImageResponse is the body answered by an image generation endpoint. Exactly one of Image and Error
// is set.
type ImageResponse struct {
	Image string `json:"image,omitempty"`
	Error string `json:"error,omitempty"`
}

// ImageAPI synthesizes images by calling a remote image endpoint speaking the ImageRequest and
// ImageResponse JSON bodies, such as the one served by this application at /api/image.
type ImageAPI struct {
	endpoint string
	client   *http.Client

	logger *zap.Logger
}

// NewImageAPI creates a new ImageAPI posting to endpoint. A zero timeout disables the client timeout.
func NewImageAPI(endpoint string, timeout time.Duration, logger *zap.Logger) ImageAPI {
	return ImageAPI{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(zap.String("module", "imageapi")),
	}
}

// Synthesize posts prompt to the endpoint. Non-200 answers are returned as *models.APIError carrying
// the status and the endpoint's error message.
func (i ImageAPI) Synthesize(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ImageRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}

	var res ImageResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", &models.APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Err: err}
		}
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		i.logger.Debug("Image endpoint failed",
			zap.Int("status", resp.StatusCode),
			zap.String("error", res.Error))
		msg := res.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &models.APIError{Status: resp.StatusCode, Message: msg, Err: errors.New(msg)}
	}

	return res.Image, nil
}
