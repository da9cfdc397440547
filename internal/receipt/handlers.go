package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const maxUploadSize = int64(50 << 20) // 50MB, phone photos can be large

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

var (
	filenameSpecialChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces       = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length. Phone-generated filenames can be long and messy.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = filenameSpecialChars.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// handleHealthz reports liveness
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUploadReceipt accepts a receipt image and runs the ingestion
// pipeline on it. The run executes within the request; concurrent uploads
// produce independent concurrent runs.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		corsError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		corsError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		corsError(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading upload", "error", err)
		corsError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	owner := ownerID(r)

	// Store the image first; its path is the pipeline's source URI. The
	// path carries a unique prefix so repeat uploads of the same filename
	// never share a file.
	sourceURI, err := s.storage.Save(fmt.Sprintf("%s_%s_%s", owner, uuid.NewString(), sanitizeFilename(header.Filename)), data)
	if err != nil {
		slog.Error("Error saving upload", "error", err)
		corsError(w, "Error saving file", http.StatusInternalServerError)
		return
	}

	record, err := s.pipeline.Run(r.Context(), owner, sourceURI, contentType)
	if err != nil {
		s.writeStageError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// handleRetryReceipt re-triggers the pipeline for an existing receipt id.
// Safe for failed and duplicate runs; stages are idempotent per receipt id.
func (s *Server) handleRetryReceipt(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	id := r.PathValue("id")

	existing, err := s.store.Get(owner, id)
	if err != nil {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}

	record, err := s.pipeline.Retry(r.Context(), owner, id, existing.SourceURI, existing.ContentType)
	if err != nil {
		s.writeStageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleDeleteReceipt deletes a receipt, its stored file and its vector
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	id := r.PathValue("id")

	if _, err := s.store.Get(owner, id); err != nil {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	if err := s.pipeline.Delete(r.Context(), owner, id); err != nil {
		slog.Error("Error deleting receipt", "receipt_id", id, "error", err)
		corsError(w, "Error deleting receipt", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListReceipts returns all of the owner's receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(ownerID(r))
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetReceipt returns one receipt record
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.Get(ownerID(r), r.PathValue("id"))
	if err != nil {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleGetReceiptFile serves the original uploaded image
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.Get(ownerID(r), r.PathValue("id"))
	if err != nil {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}

	data, err := s.storage.Get(record.SourceURI)
	if err != nil {
		slog.Error("Error reading receipt file", "error", err)
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// chatRequest is the POST /api/chat body
type chatRequest struct {
	Message string `json:"message"`
}

// chatResponse is the POST /api/chat reply
type chatResponse struct {
	Answer  string  `json:"answer"`
	Results []Match `json:"results"`
}

// handleChat answers a question about the owner's receipts
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		corsError(w, "A message is required", http.StatusBadRequest)
		return
	}

	answer, matches, err := s.chatbot.Chat(r.Context(), ownerID(r), req.Message)
	if err != nil {
		slog.Error("Error answering chat message", "error", err)
		corsError(w, "Error answering message", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, Results: matches})
}

// writeStageError maps a pipeline failure onto an HTTP response carrying the
// failed stage and error kind
func (s *Server) writeStageError(w http.ResponseWriter, err error) {
	var serr *StageError
	if errors.As(err, &serr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "Receipt processing failed",
			"stage": serr.Stage,
			"kind":  string(serr.Kind),
		})
		return
	}
	slog.Error("Pipeline error", "error", err)
	corsError(w, "Internal server error", http.StatusInternalServerError)
}
