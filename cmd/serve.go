package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/model"
	"github.com/previdia/case-pipeline/internal/task"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for pipeline requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/cases/{caseID}/process", func(w http.ResponseWriter, req *http.Request) {
		caseID := chi.URLParam(req, "caseID")

		var body struct {
			Profile string `json:"profile"`
		}
		if req.Body != nil && req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
		}
		profile := model.LegalProfile(body.Profile)
		if profile == "" {
			profile = model.ProfileRuralMaternity
		}

		id := env.Tasks.Launch(req.Context(), "process", caseID, func(ctx context.Context) (task.Outcome, error) {
			result, err := env.Pipeline.Run(ctx, caseID, profile)
			if err != nil {
				return task.Outcome{}, err
			}
			return task.Outcome{Result: result, Complete: result.Complete()}, nil
		})

		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
	})

	r.Post("/cases/{caseID}/revalidate", func(w http.ResponseWriter, req *http.Request) {
		caseID := chi.URLParam(req, "caseID")

		var body struct {
			Profile string `json:"profile"`
		}
		if req.Body != nil && req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
		}
		profile := model.LegalProfile(body.Profile)
		if profile == "" {
			profile = model.ProfileRuralMaternity
		}

		id := env.Tasks.Launch(req.Context(), "revalidate", caseID, func(ctx context.Context) (task.Outcome, error) {
			report, err := env.Validator.Run(ctx, caseID, profile)
			if err != nil {
				return task.Outcome{}, err
			}
			return task.Outcome{Result: report, Complete: true}, nil
		})

		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
	})

	r.Post("/cases/{caseID}/quality", func(w http.ResponseWriter, req *http.Request) {
		caseID := chi.URLParam(req, "caseID")

		id := env.Tasks.Launch(req.Context(), "quality", caseID, func(ctx context.Context) (task.Outcome, error) {
			report, err := env.Quality.Run(ctx, caseID)
			if err != nil {
				return task.Outcome{}, err
			}
			return task.Outcome{Result: report, Complete: true}, nil
		})

		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
	})

	// Readiness poll: how many stored extractions cover all of the given
	// documents. Clients poll this after an async process call before
	// asking for the consolidated record.
	r.Get("/cases/{caseID}/extractions/coverage", func(w http.ResponseWriter, req *http.Request) {
		caseID := chi.URLParam(req, "caseID")

		docsParam := req.URL.Query().Get("docs")
		if docsParam == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "docs query parameter is required"})
			return
		}
		docIDs := strings.Split(docsParam, ",")

		count, err := env.Store.CountExtractionsCovering(req.Context(), caseID, docIDs)
		if err != nil {
			zap.L().Error("extraction coverage lookup failed",
				zap.String("case_id", caseID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "coverage lookup failed"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"case_id": caseID,
			"count":   count,
			"covered": count > 0,
		})
	})

	r.Get("/tasks/{taskID}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "taskID")

		snapshot, ok := env.Tasks.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
			return
		}

		// ?wait=1 blocks until the task reaches a terminal state or the
		// poll timeout elapses, then returns whatever snapshot exists.
		if req.URL.Query().Get("wait") == "1" {
			timeout := time.Duration(cfg.Task.PollTimeoutSecs) * time.Second
			snapshot, _ = env.Tasks.Wait(req.Context(), id, timeout)
		}

		writeJSON(w, http.StatusOK, snapshot)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
