package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/service"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port              int
	definitionService *service.DefinitionService
	instanceService   *service.InstanceService
}

func NewServer(httpPort int, definitionService *service.DefinitionService, instanceService *service.InstanceService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		Port:              httpPort,
		definitionService: definitionService,
		instanceService:   instanceService,
	}

	router := mux.NewRouter()
	router.HandleFunc("/definition", s.HandleCreateDefinition).Methods(http.MethodPost)
	router.HandleFunc("/definition/{id}", s.HandleGetDefinition).Methods(http.MethodGet)
	router.HandleFunc("/definition/{id}", s.HandleUpdateDefinition).Methods(http.MethodPut)
	router.HandleFunc("/definition/{id}", s.HandleDeleteDefinition).Methods(http.MethodDelete)
	router.HandleFunc("/definition/{id}/activate", s.HandleActivateDefinition).Methods(http.MethodPost)
	router.HandleFunc("/definition/{id}/deactivate", s.HandleDeactivateDefinition).Methods(http.MethodPost)
	router.HandleFunc("/definition/{id}/archive", s.HandleArchiveDefinition).Methods(http.MethodPost)
	router.HandleFunc("/definition/name/{name}/versions", s.HandleListVersions).Methods(http.MethodGet)
	router.HandleFunc("/definition/name/{name}/latest", s.HandleGetLatestVersion).Methods(http.MethodGet)
	router.HandleFunc("/definition/name/{name}/latest-active", s.HandleGetLatestActive).Methods(http.MethodGet)
	router.HandleFunc("/definition/name/{name}/versions/{version}/instances", s.HandleListInstances).Methods(http.MethodGet)
	router.HandleFunc("/instance", s.HandleStartInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/{id}", s.HandleGetInstance).Methods(http.MethodGet)
	router.HandleFunc("/instance/{id}/suspend", s.HandleSuspendInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/{id}/resume", s.HandleResumeInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/{id}/cancel", s.HandleCancelInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/{id}/executions", s.HandleListExecutions).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/assignments", s.HandleListAssignments).Methods(http.MethodGet)
	router.HandleFunc("/assignment/{id}/acknowledge", s.HandleAcknowledgeAssignment).Methods(http.MethodPost)
	router.HandleFunc("/assignment/{id}/complete", s.HandleCompleteAssignment).Methods(http.MethodPost)
	router.HandleFunc("/assignment/{id}/reject", s.HandleRejectAssignment).Methods(http.MethodPost)
	router.HandleFunc("/assignment/{id}/delegate", s.HandleDelegateAssignment).Methods(http.MethodPost)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message string) {
	respondWithJSON(w, http.StatusOK, map[string]string{"message": message})
}

func respondWithError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var notFound model.NotFoundError
	var invalidTransition model.InvalidTransitionError
	var validation model.ValidationError
	var notActive model.DefinitionNotActiveError
	switch {
	case errors.As(err, &notFound):
		code = http.StatusNotFound
	case errors.As(err, &invalidTransition):
		code = http.StatusConflict
	case errors.As(err, &validation):
		code = http.StatusBadRequest
	case errors.As(err, &notActive):
		code = http.StatusConflict
	}
	respondWithJSON(w, code, map[string]string{"error": err.Error()})
}
