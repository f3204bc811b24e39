package web

import (
	"math"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/survey-manager/internal/frame"
	"github.com/JonMunkholm/survey-manager/internal/logging"
	"github.com/JonMunkholm/survey-manager/internal/survey"
)

// CollectionInfo is an entry of the collection list.
type CollectionInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// SurveyResponse describes a survey and the tables present in its store.
type SurveyResponse struct {
	*survey.Survey
	StoredTables []string `json:"stored_tables"`
	Built        bool     `json:"built"`
}

// PreviewResponse holds the first rows of a table. Missing values are
// null.
type PreviewResponse struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	out := make([]CollectionInfo, 0, len(s.files.Collections))
	for _, name := range s.files.CollectionNames() {
		path, err := s.files.CollectionPath(name)
		if err != nil {
			respondError(w, r, err)
			return
		}
		out = append(out, CollectionInfo{Name: name, Path: path})
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": out})
}

func (s *Server) collection(r *http.Request) (*survey.Collection, error) {
	return survey.Open(s.files, chi.URLParam(r, "collection"), s.opts...)
}

func (s *Server) survey(r *http.Request) (*survey.Survey, error) {
	c, err := s.collection(r)
	if err != nil {
		return nil, err
	}
	return c.Survey(chi.URLParam(r, "survey"))
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	c, err := s.collection(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSurvey(w http.ResponseWriter, r *http.Request) {
	sv, err := s.survey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := SurveyResponse{Survey: sv, StoredTables: []string{}}
	tables, err := sv.StoredTables(r.Context())
	switch {
	case errors.Is(err, survey.ErrStoreNotBuilt):
		logging.FromContext(r.Context()).Debug("survey store not built", "survey", sv.Name)
	case err != nil:
		respondError(w, r, err)
		return
	default:
		resp.StoredTables = tables
		resp.Built = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sv, err := s.survey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	history, err := sv.History(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": history})
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	sv, err := s.survey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	table := chi.URLParam(r, "table")
	cols, err := sv.Columns(r.Context(), table)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": cols})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit, err := s.previewLimit(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sv, err := s.survey(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	table := chi.URLParam(r, "table")
	fr, err := sv.Preview(r.Context(), table, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse(table, fr))
}

// previewLimit parses the limit query parameter, capped by the configured
// preview limit.
func (s *Server) previewLimit(r *http.Request) (int, error) {
	ceiling := s.cfg.PreviewLimit
	if ceiling <= 0 {
		ceiling = 100
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return ceiling, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.Wrapf(errInvalidParam, "limit %q must be a positive integer", raw)
	}
	if n > ceiling {
		n = ceiling
	}
	return n, nil
}

func previewResponse(table string, fr *frame.Frame) PreviewResponse {
	resp := PreviewResponse{Table: table, Columns: fr.Names(), Rows: make([][]any, fr.Len())}
	cols := fr.Columns()
	for i := range resp.Rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			v := c.Value(i)
			// NaN and infinities are not valid JSON numbers.
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				v = nil
			}
			row[j] = v
		}
		resp.Rows[i] = row
	}
	return resp
}
