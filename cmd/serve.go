package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/recordgen/internal/job"
	"github.com/sells-group/recordgen/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for generation jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		env.Jobs.StartSweeper(ctx, env.SweepInterval)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, env),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// jobRequest is the submission payload. Callers either name plain target
// columns or pass full field specs; explicit fields win.
type jobRequest struct {
	RowCount       int                     `json:"row_count"`
	TargetColumns  []string                `json:"target_columns,omitempty"`
	Fields         []model.EnrichmentField `json:"fields,omitempty"`
	DataType       string                  `json:"data_type"`
	Specifications string                  `json:"specifications,omitempty"`
}

func (r jobRequest) toGenerationRequest() (model.GenerationRequest, error) {
	req := model.GenerationRequest{
		RowCount:       r.RowCount,
		Fields:         r.Fields,
		DataType:       r.DataType,
		Specifications: r.Specifications,
	}
	if len(req.Fields) == 0 {
		req.Fields = fieldsFromColumns(r.TargetColumns)
	}

	if req.RowCount <= 0 {
		return req, eris.New("row_count must be > 0")
	}
	if req.DataType == "" {
		return req, eris.New("data_type is required")
	}
	if len(req.Fields) == 0 {
		return req, eris.New("at least one field or target column is required")
	}
	return req, nil
}

// newRouter builds the job API. The server context, not the request context,
// parents each job so in-flight work survives the HTTP request.
func newRouter(serverCtx context.Context, env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": env.Jobs.List()})
	})

	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		var body jobRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		genReq, err := body.toGenerationRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		j := env.Orchestrator.Start(serverCtx, genReq, env.TableID)
		writeJSON(w, http.StatusAccepted, j)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		j, err := env.Jobs.Get(chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, j)
	})

	r.Get("/jobs/{id}/records", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if _, err := env.Jobs.Get(id); err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		recs, err := env.Store.ListGeneratedRecords(req.Context(), id)
		if err != nil {
			zap.L().Error("list generated records", zap.String("job_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list records")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":  id,
			"records": recs,
		})
	})

	r.Post("/jobs/{id}/cancel", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		switch err := env.Jobs.Cancel(id); {
		case err == nil:
			j, _ := env.Jobs.Get(id)
			writeJSON(w, http.StatusOK, j)
		case eris.Is(err, job.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case eris.Is(err, job.ErrTerminal):
			writeError(w, http.StatusConflict, "job already finished")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
