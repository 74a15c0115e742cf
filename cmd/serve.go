package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/proethica/ontextract/internal/extraction"
	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/pipeline"
	"github.com/proethica/ontextract/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/extract", handleExtract(env))
	r.Post("/pipeline", handlePipeline(env))
	r.Post("/pipeline/stream", handlePipelineStream(env))

	r.Route("/provenance", func(r chi.Router) {
		r.Get("/activities", handleListActivities(env))
		r.Get("/versions", handleListVersions(env))
		r.Post("/versions/{id}/promote", handlePromote(env))
	})

	return r
}

type extractRequest struct {
	Concept model.ConceptType `json:"concept"`
	CaseID  int64             `json:"case_id"`
	Section model.SectionType `json:"section"`
	Text    string            `json:"text"`
}

func handleExtract(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !req.Concept.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown concept type %q", req.Concept))
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		if req.Section == "" {
			req.Section = model.PassFor(req.Concept).DefaultSection
		}

		ex, err := extraction.New(r.Context(), extraction.Deps{
			LLM:       env.LLM,
			Catalogue: env.Catalogue,
			Registry:  env.Registry,
			Templates: env.Templates,
			Anthropic: cfg.Anthropic,
			Settings:  cfg.Extraction,
		}, req.Concept)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		result, err := ex.Extract(r.Context(), model.ExtractionInput{
			Concept:    req.Concept,
			SourceText: req.Text,
			CaseID:     req.CaseID,
			Section:    req.Section,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type pipelineRequest struct {
	CaseID    int64                        `json:"case_id"`
	SessionID string                       `json:"session_id"`
	Sections  map[model.SectionType]string `json:"sections"`
}

func handlePipeline(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipelineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Sections) == 0 {
			writeError(w, http.StatusBadRequest, "sections are required")
			return
		}

		result, err := env.Pipeline.Run(r.Context(), pipeline.RunInput{
			CaseID:    req.CaseID,
			SessionID: req.SessionID,
			Sections:  req.Sections,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// handlePipelineStream runs the pipeline and streams a progress event per
// concept as server-sent events, followed by a final result event.
func handlePipelineStream(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipelineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Sections) == 0 {
			writeError(w, http.StatusBadRequest, "sections are required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		result, err := env.Pipeline.Run(r.Context(), pipeline.RunInput{
			CaseID:    req.CaseID,
			SessionID: req.SessionID,
			Sections:  req.Sections,
			Progress: func(ev model.ProgressEvent) {
				writeSSE(w, "progress", ev)
				flusher.Flush()
			},
		})
		if err != nil {
			writeSSE(w, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			return
		}

		writeSSE(w, "result", result)
		flusher.Flush()
	}
}

func handleListActivities(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		caseID, _ := strconv.ParseInt(q.Get("case_id"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 {
			limit = 50
		}

		activities, err := env.Store.ListActivities(r.Context(), store.ActivityFilter{
			CaseID:    caseID,
			SessionID: q.Get("session_id"),
			Status:    model.ActivityStatus(q.Get("status")),
			Type:      q.Get("type"),
			VersionID: q.Get("version_id"),
			Limit:     limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, activities)
	}
}

func handleListVersions(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 {
			limit = 50
		}

		versions, err := env.Store.ListVersions(r.Context(), store.VersionFilter{
			Workflow:    cfg.Versioning.Workflow,
			Environment: model.Environment(q.Get("env")),
			Status:      model.VersionStatus(q.Get("status")),
			Limit:       limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, versions)
	}
}

func handlePromote(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ApprovedBy string `json:"approved_by"`
		}
		// Body is optional when approval is not required.
		_ = json.NewDecoder(r.Body).Decode(&req)

		v, err := env.Versions.MarkAsProduction(r.Context(), chi.URLParam(r, "id"), req.ApprovedBy)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Error("marshal sse event", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
