package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"log/slog"

	"voicebox/internal/api"
	"voicebox/internal/config"
	"voicebox/internal/logging"
	"voicebox/internal/pipeline"
	"voicebox/internal/queue"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address required")
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/items", srv.handleItems)
	mux.HandleFunc("/api/items/", srv.handleItem)
	mux.HandleFunc("/api/models", srv.handleModels)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	stats := make(map[string]int, len(status.ItemStats))
	for key, count := range status.ItemStats {
		stats[string(key)] = count
	}
	lastPoll := ""
	if !status.LastPollAt.IsZero() {
		lastPoll = status.LastPollAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		DBPath:        status.DBPath,
		LockFilePath:  status.LockFilePath,
		ItemStats:     stats,
		ActiveItems:   status.ActiveItems,
		LastPollAt:    lastPoll,
		PrimaryModel:  s.daemon.transcriber.PrimaryModel(),
		FallbackModel: s.daemon.transcriber.FallbackModel(),
	})
}

func (s *apiServer) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	items, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemListResponse{Items: api.FromQueueItems(items)})
}

// handleItem dispatches /api/items/{id} and its sub-resources.
func (s *apiServer) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/items/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}

	id := rest
	action := ""
	for _, suffix := range []string{"/transcript", "/audio", "/fields", "/reprocess"} {
		if strings.HasSuffix(rest, suffix) {
			id = strings.TrimSuffix(rest, suffix)
			action = strings.TrimPrefix(suffix, "/")
			break
		}
	}
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.handleItemGet(w, r, id)
		case http.MethodDelete:
			s.handleItemDelete(w, r, id)
		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "transcript":
		s.handleItemTranscript(w, r, id)
	case "audio":
		s.handleItemAudio(w, r, id)
	case "fields":
		s.handleItemFields(w, r, id)
	case "reprocess":
		s.handleItemReprocess(w, r, id)
	}
}

func (s *apiServer) loadItem(w http.ResponseWriter, r *http.Request, id string) *queue.Item {
	item, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "item not found")
		return nil
	}
	return item
}

func (s *apiServer) handleItemGet(w http.ResponseWriter, r *http.Request, id string) {
	item := s.loadItem(w, r, id)
	if item == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemResponse{Item: api.FromQueueItem(item)})
}

func (s *apiServer) handleItemDelete(w http.ResponseWriter, r *http.Request, id string) {
	item := s.loadItem(w, r, id)
	if item == nil {
		return
	}
	removed, err := s.daemon.store.Remove(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.AudioPath != "" {
		if err := os.Remove(item.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove audio file",
				logging.String(logging.FieldItemID, id),
				logging.Error(err),
			)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *apiServer) handleItemTranscript(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	item := s.loadItem(w, r, id)
	if item == nil {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(item.Transcript))
}

func (s *apiServer) handleItemAudio(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	item := s.loadItem(w, r, id)
	if item == nil {
		return
	}
	if item.AudioPath == "" {
		s.writeError(w, http.StatusNotFound, "no audio stored for item")
		return
	}
	http.ServeFile(w, r, item.AudioPath)
}

func (s *apiServer) handleItemFields(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.UpdateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Field) == "" {
		s.writeError(w, http.StatusBadRequest, "field name required")
		return
	}

	updated, err := s.daemon.store.UpdateField(r.Context(), id, req.Field, req.Value)
	if err != nil {
		if errors.Is(err, queue.ErrUnknownField) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !updated {
		s.writeError(w, http.StatusNotFound, "item not found")
		return
	}

	item := s.loadItem(w, r, id)
	if item == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemResponse{Item: api.FromQueueItem(item)})
}

func (s *apiServer) handleItemReprocess(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	item, err := s.daemon.pipeline.Reprocess(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "item not found")
		case errors.Is(err, pipeline.ErrAlreadyInFlight):
			s.writeError(w, http.StatusConflict, "item is being processed")
		case errors.Is(err, pipeline.ErrNotRunning):
			s.writeError(w, http.StatusServiceUnavailable, "pipeline not running")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.ItemResponse{Item: api.FromQueueItem(item)})
}

func (s *apiServer) handleModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, api.ModelsPayload{
			PrimaryModel:  s.daemon.transcriber.PrimaryModel(),
			FallbackModel: s.daemon.transcriber.FallbackModel(),
		})
	case http.MethodPost:
		var req api.ModelsPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := s.daemon.transcriber.SetModels(req.PrimaryModel, req.FallbackModel); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Info("transcription models updated",
			logging.String("primary", s.daemon.transcriber.PrimaryModel()),
			logging.String("fallback", s.daemon.transcriber.FallbackModel()),
		)
		s.writeJSON(w, http.StatusOK, api.ModelsPayload{
			PrimaryModel:  s.daemon.transcriber.PrimaryModel(),
			FallbackModel: s.daemon.transcriber.FallbackModel(),
		})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
