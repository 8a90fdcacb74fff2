package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"omr-grader/internal/logger"
	"omr-grader/internal/pipeline"
)

const defaultMaxUpload = 10 << 20

type Server struct {
	grader         *pipeline.Grader
	maxUploadBytes int64
	totalQuestions int
}

func NewServer(grader *pipeline.Grader, maxUploadBytes int64, totalQuestions int) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUpload
	}
	if totalQuestions <= 0 {
		totalQuestions = 20
	}
	return &Server{grader: grader, maxUploadBytes: maxUploadBytes, totalQuestions: totalQuestions}
}

func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/health", s.HealthHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/process-image", s.GradeHandler("image")).Methods("POST")
	api.HandleFunc("/grade", s.GradeHandler("sheet")).Methods("POST")
	api.HandleFunc("/compare-sheets", s.CompareHandler).Methods("POST")
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sr.status,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}
