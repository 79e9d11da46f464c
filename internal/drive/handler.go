package drive

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	client        Client
	ingestService *IngestService
}

func NewHandler(client Client, ingestService *IngestService) *Handler {
	return &Handler{
		client:        client,
		ingestService: ingestService,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/drive/files", h.ListFiles).Methods(http.MethodGet)
	router.HandleFunc("/admin/drive/ingest", h.Ingest).Methods(http.MethodPost)
}

// ListFiles lists CSV files by folderId or by path.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	folderID := query.Get("folderId")

	if path := query.Get("path"); path != "" {
		var err error
		folderID, err = h.client.FindFolderByPath(r.Context(), path)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	files, err := h.client.ListFiles(r.Context(), folderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"files": sortedByName(CSVFiles(files))})
}

// Ingest loads one file (fileId) or a whole folder (folderId).
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fileID, folderID := query.Get("fileId"), query.Get("folderId")

	switch {
	case fileID != "":
		summary, err := h.ingestService.IngestFile(r.Context(), fileID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case folderID != "":
		summary, err := h.ingestService.IngestFolder(r.Context(), folderID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		http.Error(w, "fileId or folderId parameter is required", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrNotFound) {
		status = http.StatusNotFound
	}
	log.Error().Err(err).Int("status", status).Msg("Drive request failed")
	http.Error(w, err.Error(), status)
}

func sortedByName(files []*File) []*File {
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}
