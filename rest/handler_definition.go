package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stepflow-io/stepflow/model"
)

func (s *Server) HandleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var def model.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	created, err := s.definitionService.Create(&def)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (s *Server) HandleGetDefinition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, err := s.definitionService.Get(id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

type updateDefinitionRequest struct {
	Steps       []model.Step `json:"steps"`
	Description string       `json:"description"`
	UpdatedBy   string       `json:"updatedBy"`
}

func (s *Server) HandleUpdateDefinition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	def, err := s.definitionService.Update(id, req.Steps, req.Description, req.UpdatedBy)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.definitionService.Delete(id); err != nil {
		respondWithError(w, err)
		return
	}
	respondOK(w, "definition deleted")
}

func (s *Server) HandleActivateDefinition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, err := s.definitionService.Activate(id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleDeactivateDefinition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, err := s.definitionService.Deactivate(id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleArchiveDefinition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, err := s.definitionService.Archive(id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	defs, err := s.definitionService.ListVersions(name)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, defs)
}

func (s *Server) HandleGetLatestVersion(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, err := s.definitionService.GetLatestVersion(name)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleGetLatestActive(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, err := s.definitionService.GetLatestActive(name)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}
