package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okian/pitchside/internal/domain/assignment"
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/internal/domain/types"
)

// IdempotencyHeader carries the client's submission key on create requests.
const IdempotencyHeader = "Idempotency-Key"

// AssignmentDependencies defines the interface for assignment operations.
type AssignmentDependencies interface {
	CreateIndividualAssignment(ctx context.Context, req assignment.Request) (model.Assignment, error)
	CreateGroupAssignment(ctx context.Context, req assignment.Request) ([]model.Assignment, error)
	GetMatchAssignments(ctx context.Context, matchID string) ([]model.Assignment, error)
	DeleteAssignment(ctx context.Context, id string) error
	EventTypeGrid(ctx context.Context, matchID, playerID, team string) ([]types.GridCell, error)

	// AcquireSubmission reports false when the key was already used.
	AcquireSubmission(ctx context.Context, key string) bool
	ReleaseSubmission(ctx context.Context, key string)
}

// AssignmentHandler handles assignment requests.
type AssignmentHandler struct {
	deps AssignmentDependencies
}

// NewAssignmentHandler creates a new assignment handler.
func NewAssignmentHandler(deps AssignmentDependencies) *AssignmentHandler {
	return &AssignmentHandler{deps: deps}
}

// assignmentRequest mirrors the OpenAPI schema of both create endpoints.
type assignmentRequest struct {
	TrackerID  string   `json:"tracker_id"`
	PlayerID   string   `json:"player_id"`
	PlayerIDs  []string `json:"player_ids"`
	Team       string   `json:"team"`
	EventTypes []string `json:"event_types"`
	VideoURL   string   `json:"video_url"`
}

// createResponse is the result contract of the create endpoints.
type createResponse struct {
	Success     bool               `json:"success"`
	Assignment  *model.Assignment  `json:"assignment,omitempty"`
	Assignments []model.Assignment `json:"assignments,omitempty"`
	Conflicts   []model.Claim      `json:"conflicts,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
}

type listResponse struct {
	MatchID     string             `json:"match_id"`
	Assignments []model.Assignment `json:"assignments"`
}

type gridResponse struct {
	MatchID  string           `json:"match_id"`
	PlayerID string           `json:"player_id"`
	Team     string           `json:"team"`
	Cells    []types.GridCell `json:"cells"`
}

// HandleCreateIndividual handles POST /matches/{matchID}/assignments requests.
func (h *AssignmentHandler) HandleCreateIndividual(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_assignment"
	h.create(w, r, op, func(ctx context.Context, req assignment.Request) (createResponse, error) {
		a, err := h.deps.CreateIndividualAssignment(ctx, req)
		if err != nil {
			return createResponse{}, err
		}
		return createResponse{Success: true, Assignment: &a}, nil
	}, func(body *assignmentRequest) []string {
		if body.PlayerID == "" {
			return nil
		}
		return []string{body.PlayerID}
	})
}

// HandleCreateGroup handles POST /matches/{matchID}/group-assignments requests.
func (h *AssignmentHandler) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_group_assignment"
	h.create(w, r, op, func(ctx context.Context, req assignment.Request) (createResponse, error) {
		list, err := h.deps.CreateGroupAssignment(ctx, req)
		if err != nil {
			return createResponse{}, err
		}
		return createResponse{Success: true, Assignments: list}, nil
	}, func(body *assignmentRequest) []string {
		return body.PlayerIDs
	})
}

func (h *AssignmentHandler) create(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	run func(context.Context, assignment.Request) (createResponse, error),
	players func(*assignmentRequest) []string,
) {
	ctx := r.Context()

	var body assignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeCreateError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && !h.deps.AcquireSubmission(ctx, key) {
		writeCreateError(w, NewKind(op, ErrDuplicateSubmission))
		return
	}

	resp, err := run(ctx, assignment.Request{
		MatchID:    chi.URLParam(r, "matchID"),
		TrackerID:  body.TrackerID,
		TeamID:     body.Team,
		PlayerIDs:  players(&body),
		EventTypes: body.EventTypes,
		VideoURL:   body.VideoURL,
	})
	if err != nil {
		if key != "" {
			h.deps.ReleaseSubmission(ctx, key)
		}
		writeCreateError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func writeCreateError(w http.ResponseWriter, err error) {
	status, _ := classify(err)
	resp := createResponse{Success: false, Errors: problems(err)}
	if cerr := asConflict(err); cerr != nil {
		resp.Conflicts = cerr.Conflicts
	}
	writeJSON(w, status, resp)
}

func asConflict(err error) *assignment.ConflictError {
	var cerr *assignment.ConflictError
	if errors.As(err, &cerr) {
		return cerr
	}
	return nil
}

// HandleListAssignments handles GET /matches/{matchID}/assignments requests.
func (h *AssignmentHandler) HandleListAssignments(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	list, err := h.deps.GetMatchAssignments(r.Context(), matchID)
	if err != nil {
		writeError(w, Wrap("api.list_assignments", err))
		return
	}
	if list == nil {
		list = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, listResponse{MatchID: matchID, Assignments: list})
}

// HandleDelete handles DELETE /assignments/{assignmentID} requests.
func (h *AssignmentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeleteAssignment(r.Context(), chi.URLParam(r, "assignmentID")); err != nil {
		writeError(w, Wrap("api.delete_assignment", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleEventGrid handles GET /matches/{matchID}/event-grid?player_id=&team= requests.
func (h *AssignmentHandler) HandleEventGrid(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	playerID := r.URL.Query().Get("player_id")
	team := r.URL.Query().Get("team")
	cells, err := h.deps.EventTypeGrid(r.Context(), matchID, playerID, team)
	if err != nil {
		writeError(w, Wrap("api.event_grid", err))
		return
	}
	writeJSON(w, http.StatusOK, gridResponse{MatchID: matchID, PlayerID: playerID, Team: team, Cells: cells})
}

// HandleEventTypes handles GET /event-types requests.
func (h *AssignmentHandler) HandleEventTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"event_types": model.EventTypes})
}
