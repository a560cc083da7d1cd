package httpserver

import (
	"log"
	"net/http"

	"github.com/avelai/feedback-pipeline/internal/http/handlers"
	"github.com/avelai/feedback-pipeline/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/feedback", deps.API.Feedback)
	mux.HandleFunc("/v1/pipeline/trace/", deps.API.Trace)
	mux.HandleFunc("/v1/pipeline/health", deps.API.PipelineHealth)
	mux.HandleFunc("/v1/planner/run", deps.API.PlannerRun)
	mux.HandleFunc("/v1/planner/latest", deps.API.PlannerLatest)
	mux.HandleFunc("/v1/jobs/", deps.API.JobStatus)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
