package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/stepflow-io/stepflow/model"
)

func (s *Server) HandleStartInstance(w http.ResponseWriter, r *http.Request) {
	var req model.InstanceRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	instance, err := s.instanceService.Start(req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, instance)
}

func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	instance, err := s.instanceService.Get(id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, instance)
}

func (s *Server) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "version must be a number"})
		return
	}
	instances, err := s.instanceService.ListByDefinition(vars["name"], version)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, instances)
}

func (s *Server) HandleSuspendInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.instanceService.Suspend(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, "instance suspended")
}

func (s *Server) HandleResumeInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.instanceService.Resume(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, "instance resumed")
}

func (s *Server) HandleCancelInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.instanceService.Cancel(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, "instance cancelled")
}

func (s *Server) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	executions, err := s.instanceService.ListExecutions(id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, executions)
}

func (s *Server) HandleListAssignments(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	assignments, err := s.instanceService.ListAssignments(id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, assignments)
}

type assignmentActionRequest struct {
	Comments string         `json:"comments"`
	Assignee string         `json:"assignee"`
	Output   map[string]any `json:"output"`
}

func (s *Server) HandleAcknowledgeAssignment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.instanceService.AcknowledgeAssignment(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, "assignment acknowledged")
}

func (s *Server) HandleCompleteAssignment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req assignmentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.instanceService.CompleteAssignment(id, req.Comments, req.Output); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, "assignment completed")
}

func (s *Server) HandleRejectAssignment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req assignmentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.instanceService.RejectAssignment(id, req.Comments); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, "assignment rejected")
}

func (s *Server) HandleDelegateAssignment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req assignmentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.instanceService.DelegateAssignment(id, req.Assignee, req.Comments); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, "assignment delegated")
}
