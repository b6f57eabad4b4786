package vestd

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vestvault/services/vestd/recon"
	"vestvault/services/vestd/registry"
)

// AttachRegistry enables the counterparty endpoints.
func (s *Server) AttachRegistry(reg *registry.Registry) { s.registry = reg }

// AttachReporter enables activity report generation.
func (s *Server) AttachReporter(reporter *recon.Reporter) { s.reporter = reporter }

type counterpartyRequest struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Address string `json:"address"`
}

type grantRequest struct {
	Amount string `json:"amount"`
}

type reportRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) handleCounterpartyCreate(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusNotImplemented, errors.New("registry disabled"))
		return
	}
	var req counterpartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cp, err := s.registry.Create(req.Name, req.Region, req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (s *Server) handleCounterpartyList(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusNotImplemented, errors.New("registry disabled"))
		return
	}
	list, err := s.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCounterpartyGet(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusNotImplemented, errors.New("registry disabled"))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cp, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	grants, err := s.registry.Grants(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counterparty": cp, "grants": grants})
}

func (s *Server) handleGrantCreate(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusNotImplemented, errors.New("registry disabled"))
		return
	}
	caller, _ := CallerFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := parseAmount(req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	grant, err := s.registry.RecordGrant(id, req.Amount, bech32Addr(caller))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reporter == nil {
		writeError(w, http.StatusNotImplemented, errors.New("reports disabled"))
		return
	}
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("start must be RFC3339"))
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("end must be RFC3339"))
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, errors.New("end must follow start"))
		return
	}
	ops, err := s.journal.Operations(start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rows := make([]recon.Row, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, recon.Row{
			ID:        op.ID,
			Kind:      op.Kind,
			Actor:     op.Actor,
			Subject:   op.Subject,
			Amount:    op.Amount,
			Detail:    op.Detail,
			CreatedAt: op.CreatedAt,
		})
	}
	report, err := s.reporter.Write(start, end, rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csv":     report.CSVPath,
		"parquet": report.ParquetPath,
		"rows":    report.Rows,
	})
}
