package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sitevox/sitevox/internal/store"
)

// Session is one live query conversation pinned to an agent. The registry
// replaces ad-hoc global maps: sessions are created, looked up, and
// destroyed through one synchronized owner.
type Session struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	Queries   int       `json:"queries"`
}

// SessionRegistry owns every live session.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: map[string]*Session{}}
}

// Create registers a new session for the agent.
func (r *SessionRegistry) Create(agentID string) Session {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CreatedAt: now,
		LastUsed:  now,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return *s
}

// Get returns a snapshot of the session and marks it used.
func (r *SessionRegistry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	s.LastUsed = time.Now().UTC()
	return *s, true
}

// RecordQuery bumps the session's query counter.
func (r *SessionRegistry) RecordQuery(id string) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		s.Queries++
	}
	r.mu.Unlock()
}

// Destroy removes the session. Destroying a missing session is a no-op.
func (r *SessionRegistry) Destroy(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Sweep drops sessions idle longer than maxIdle and returns how many went.
func (r *SessionRegistry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.LastUsed.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

type SessionsHandler struct {
	Sessions  *SessionRegistry
	Store     AgentStore
	Retriever Querier
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/query", h.query)
	g.DELETE("/:id", h.destroy)
}

func (h *SessionsHandler) create(c echo.Context) error {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id required")
	}

	status, ok, err := h.Store.GetAgentStatus(c.Request().Context(), req.AgentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	if status.Status != store.AgentStatusReady {
		return echo.NewHTTPError(http.StatusConflict, "knowledge base not ready: "+status.Status)
	}

	return c.JSON(http.StatusCreated, h.Sessions.Create(req.AgentID))
}

func (h *SessionsHandler) get(c echo.Context) error {
	s, ok := h.Sessions.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, s)
}

func (h *SessionsHandler) query(c echo.Context) error {
	s, ok := h.Sessions.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}

	result, err := h.Retriever.Retrieve(c.Request().Context(), s.AgentID, req.Question, req.TopK)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	h.Sessions.RecordQuery(s.ID)
	return c.JSON(http.StatusOK, result)
}

func (h *SessionsHandler) destroy(c echo.Context) error {
	h.Sessions.Destroy(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
