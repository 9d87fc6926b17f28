package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mbocsi/carelink/client"
	"github.com/mbocsi/carelink/proto"
)

// Connection is what the dashboard needs from the realtime client.
type Connection interface {
	Status() client.Status
	Send(msg any) error
	Connect(ctx context.Context) error
	Disconnect()
}

// Session reports whether the user holds a usable credential.
type Session interface {
	Authenticated() bool
}

type Server struct {
	dash    *Dashboard
	conn    Connection
	session Session // nil disables gating
	logger  *slog.Logger

	mu   sync.Mutex
	http *http.Server
}

func NewServer(dash *Dashboard, conn Connection, session Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dash: dash, conn: conn, session: session, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/status", s.HandleStatus)
	r.Get("/api/notifications", s.HandleNotifications)
	r.Post("/api/notifications/read", s.HandleMarkRead)
	r.Get("/api/deliveries", s.HandleDeliveries)
	r.Get("/api/deliveries/{id}", s.HandleDeliveryDetail)
	r.Get("/api/health/{dataType}", s.HandleHealthData)
	r.Get("/api/entities/{entity}", s.HandleEntity)
	r.Get("/api/events", s.HandleEvents)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/api/messages", s.HandleSendMessage)
		r.Post("/api/connect", s.HandleConnect)
		r.Post("/api/disconnect", s.HandleDisconnect)
	})
	return r
}

// Start serves the dashboard until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("Starting dashboard", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.session != nil && !s.session.Authenticated() {
			s.handleError(w, ServiceError{Code: ErrCodeUnauthorized, Message: "Sign in to use this action"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	Connection    client.Status `json:"connection"`
	Unread        int           `json:"unread"`
	Authenticated bool          `json:"authenticated"`
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Connection:    s.conn.Status(),
		Unread:        s.dash.Unread(),
		Authenticated: s.session == nil || s.session.Authenticated(),
	})
}

func (s *Server) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Notifications())
}

func (s *Server) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.dash.MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleDeliveries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Deliveries())
}

func (s *Server) HandleDeliveryDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	del, ok := s.dash.Delivery(id)
	if !ok {
		s.handleError(w, ServiceError{Code: ErrCodeNotFound, Message: "Delivery not found: " + id})
		return
	}
	writeJSON(w, http.StatusOK, del)
}

func (s *Server) HandleHealthData(w http.ResponseWriter, r *http.Request) {
	dataType := chi.URLParam(r, "dataType")
	h, ok := s.dash.Health(dataType)
	if !ok {
		s.handleError(w, ServiceError{Code: ErrCodeNotFound, Message: "No health data for " + dataType})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) HandleEntity(w http.ResponseWriter, r *http.Request) {
	entity := proto.Entity(chi.URLParam(r, "entity"))
	switch entity {
	case proto.EntityPatient, proto.EntityAppointment, proto.EntityMedication:
	default:
		s.handleError(w, ServiceError{Code: ErrCodeNotFound, Message: "Unknown entity: " + string(entity)})
		return
	}
	view, ok := s.dash.Entity(entity)
	if !ok {
		view = EntityView{Entity: entity}
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleSendMessage forwards an arbitrary JSON object over the realtime
// connection. The object must carry a "type" field.
func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var msg proto.Outbound
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.handleError(w, ServiceError{Code: ErrCodeInvalidInput, Message: "Message must be a JSON object", Cause: err})
		return
	}
	if msg.Type() == "" {
		s.handleError(w, ServiceError{Code: ErrCodeInvalidInput, Message: "Message type is required"})
		return
	}

	err := s.conn.Send(msg)
	switch {
	case err == nil:
	case errors.Is(err, client.ErrNotConnected):
		s.handleError(w, ServiceError{Code: ErrCodeNotConnected, Message: "Real-time connection is not open", Cause: err})
		return
	default:
		s.handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	err := s.conn.Connect(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, client.ErrTransportUnsupported), errors.Is(err, client.ErrBadEndpoint):
		s.handleError(w, ServiceError{Code: ErrCodeUnavailable, Message: "Real-time updates are unavailable", Cause: err})
		return
	default:
		// Dial failed; a reconnect is already scheduled.
		s.logger.Debug("Connect request failed", "error", err)
	}
	writeJSON(w, http.StatusOK, s.conn.Status())
}

func (s *Server) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.conn.Disconnect()
	writeJSON(w, http.StatusOK, s.conn.Status())
}

// HandleEvents streams notifications as server-sent events.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.handleError(w, ServiceError{Code: ErrCodeInternal, Message: "Streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := s.dash.Subscribe()
	defer cancel()

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-events:
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Error("Failed to encode notification", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
