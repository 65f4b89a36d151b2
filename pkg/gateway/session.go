package gateway

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// Session tracks a single in-flight HTTP request. ID is assigned by the
// server; RequestID echoes the caller's X-Request-ID and may repeat.
type Session struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId"`
	RemoteAddr string    `json:"remoteAddr"`
	Path       string    `json:"path"`
	StartedAt  time.Time `json:"startedAt"`
}

// track assigns a request ID and registers the request while it runs.
func (s *Server) track() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		session := &Session{
			ID:         uuid.NewString(),
			RequestID:  id,
			RemoteAddr: c.Request.RemoteAddr,
			Path:       c.Request.URL.Path,
			StartedAt:  time.Now(),
		}
		s.register(session)
		defer s.unregister(session.ID)
		c.Next()
	}
}

func (s *Server) register(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// ListSessions returns the requests currently being served.
func (s *Server) ListSessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}
