package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"go.uber.org/zap"
)

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	Image string `json:"image,omitempty"`
	Error string `json:"error,omitempty"`
}

// HandleImage generates one image for the JSON body {"prompt": "..."} and answers {"image": "..."} on
// success or {"error": "..."} on failure. Quota and unavailable-model failures keep their 429 and 404
// statuses with the cleaned backend reason; every other failure is a 500.
func (m Main) HandleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, imageResponse{Error: "Method not allowed"})
		return
	}

	var req imageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, imageResponse{Error: "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, imageResponse{Error: "Prompt is required"})
		return
	}

	if m.synthesizer == nil {
		writeJSON(w, http.StatusInternalServerError, imageResponse{Error: "Image generation is not configured"})
		return
	}

	image, err := m.synthesizer.Synthesize(r.Context(), req.Prompt)
	if err != nil {
		m.logger.Error("Image Gen Error", zap.Error(err))

		// The reason stays bare: callers phrase quota and missing-model failures from the status.
		status := models.StatusOf(err)
		if status != http.StatusTooManyRequests && status != http.StatusNotFound {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, imageResponse{Error: chat.CleanReason(err.Error())})
		return
	}

	if image == "" {
		writeJSON(w, http.StatusInternalServerError, imageResponse{Error: "No image data returned from model"})
		return
	}

	writeJSON(w, http.StatusOK, imageResponse{Image: image})
}

// HandleHealth reports that the server is up.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
