package http

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/history"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/store"
)

type requestListResponse struct {
	Items  []store.Request `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type requestDetails struct {
	Request store.Request        `json:"request"`
	Tasks   []store.DeliveryTask `json:"tasks"`
	History []history.Entry      `json:"history"`
	Allowed []fsm.Event          `json:"allowed_events"`
}

type eventRequest struct {
	Event   fsm.Event       `json:"event" validate:"required"`
	Version int             `json:"version" validate:"gte=0"`
	SCID    int64           `json:"sc_id" validate:"gte=0"`
	Amount  decimal.Decimal `json:"amount"`
	Note    string          `json:"note" validate:"max=500"`
}

type roleRequest struct {
	Role fsm.Role `json:"role" validate:"required,oneof=client admin sc delivery"`
	SCID int64    `json:"sc_id" validate:"gte=0"`
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := fsm.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	userID, err := parseInt64Query(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scID, err := parseInt64Query(r, "sc_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := s.flow.Requests(func(req store.Request) bool {
		if status != "" && req.Status != status {
			return false
		}
		if userID != 0 && req.UserID != userID {
			return false
		}
		return scID == 0 || req.SCID() == scID
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })

	writeJSON(w, http.StatusOK, requestListResponse{
		Items:  page(items, limit, offset),
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.flow.Request(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	entries, err := s.flow.History(ctx, id)
	if err != nil {
		s.logger.Errorf("repair: load history of request %d failed: %v", id, err)
		entries = nil
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, requestDetails{
		Request: req,
		Tasks:   s.flow.Tasks(func(t store.DeliveryTask) bool { return t.RequestID == id }),
		History: entries,
		Allowed: fsm.Allowed(req.Status),
	})
}

func (s *Server) handleRequestEvent(w http.ResponseWriter, r *http.Request) {
	adminID, ok := AdminFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "admin identity missing")
		return
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body eventRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	res, err := s.flow.Handle(ctx, lifecycle.Command{
		RequestID: id,
		Event:     body.Event,
		Actor:     lifecycle.Actor{ID: adminID, Role: fsm.RoleAdmin},
		Version:   body.Version,
		SCID:      body.SCID,
		Amount:    body.Amount,
		Note:      strings.TrimSpace(body.Note),
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Errorf("repair: apply %s to request %d failed: %v", body.Event, id, err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := fsm.TaskStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	requestID, err := parseInt64Query(r, "request_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items := s.flow.Tasks(func(t store.DeliveryTask) bool {
		if status != "" && t.Status != status {
			return false
		}
		return requestID == 0 || t.RequestID == requestID
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  page(items, limit, offset),
		"total":  len(items),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"statuses":    fsm.Statuses(),
		"transitions": fsm.Table(),
	})
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body roleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Role == fsm.RoleSC && body.SCID == 0 {
		writeError(w, http.StatusBadRequest, "sc_id is required for sc staff")
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	user, err := s.flow.SetRole(ctx, id, body.Role, body.SCID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}
