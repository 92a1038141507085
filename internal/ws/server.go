// Package ws provides the WebSocket observer channel and activity feed.
package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/config"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/protocol"
)

// Server handles WebSocket connections.
type Server struct {
	cfg        *config.Config
	hub        *Hub
	controller *pipeline.Controller
	registry   *pipeline.Registry
	upgrader   websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *Hub, controller *pipeline.Controller) *Server {
	return &Server{
		cfg:        cfg,
		hub:        h,
		controller: controller,
		registry:   controller.Registry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandlePipeline serves one observer: it reads the initial request, starts
// or resumes the run and streams its events until the run is terminal or the
// connection goes away.
// GET /ws/pipeline
func (s *Server) HandlePipeline(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	defer conn.Close()

	req, ok := s.readRequest(conn)
	if !ok {
		return nil
	}

	run, ok := s.resolve(conn, req)
	if !ok {
		return nil
	}

	conn.RunID = run.RunID
	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	s.controller.Start(run.RunID)

	closed := make(chan struct{})
	go s.drain(conn, closed)

	s.stream(conn, run.RunID, req.After, closed)
	return nil
}

func (s *Server) readRequest(conn *Connection) (protocol.PipelineRequest, bool) {
	var req protocol.PipelineRequest

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	_, data, err := conn.Conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Printf("WebSocket error before request: %v", err)
		}
		return req, false
	}

	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		s.closeNormally(conn)
		return req, false
	}
	if err := req.Validate(); err != nil {
		s.sendError(conn, req.RunID, protocol.ErrorCodeInvalidMessage, err.Error())
		s.closeNormally(conn)
		return req, false
	}
	return req, true
}

// resolve finds or creates the run and acknowledges it. Unknown run ids are
// reported as not_found and never recreated.
func (s *Server) resolve(conn *Connection, req protocol.PipelineRequest) (domain.Run, bool) {
	var run domain.Run
	if req.RunID != "" {
		existing, found := s.registry.Get(req.RunID)
		if !found {
			log.Printf("INFO: observer requested unknown run %s", req.RunID)
			conn.WriteJSON(protocol.NewNotFoundAck(req.RunID), s.cfg.WriteTimeout)
			s.closeNormally(conn)
			return run, false
		}
		run = existing
	} else {
		mode, err := domain.ParseMode(req.Mode)
		if err != nil {
			s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, err.Error())
			s.closeNormally(conn)
			return run, false
		}
		created, err := s.registry.Create(mode, req.Number, "")
		if err != nil {
			s.sendError(conn, "", protocol.ErrorCodeInternalError, err.Error())
			s.closeNormally(conn)
			return run, false
		}
		run = created
	}

	if err := conn.WriteJSON(protocol.NewRunAck(run), s.cfg.WriteTimeout); err != nil {
		log.Printf("Failed to acknowledge run %s: %v", run.RunID, err)
		if req.RunID == "" && s.registry.Discard(run.RunID) {
			log.Printf("INFO: discarded unacknowledged run %s", run.RunID)
		}
		return run, false
	}
	return run, true
}

// drain reads and discards client frames so control frames are processed,
// and reports when the connection is gone.
func (s *Server) drain(conn *Connection, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// stream sends every event from cursor on, polling until the run is
// terminal. Status and events come from one registry read, so once a
// terminal status is seen the batch already holds the final events.
func (s *Server) stream(conn *Connection, runID string, cursor int, closed <-chan struct{}) {
	poll := time.NewTicker(s.cfg.ObserverPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		events, next, status, err := s.registry.EventsSince(runID, cursor)
		if err != nil {
			if errors.Is(err, pipeline.ErrRunNotFound) {
				conn.WriteJSON(protocol.NewNotFoundAck(runID), s.cfg.WriteTimeout)
			}
			s.closeNormally(conn)
			return
		}
		for _, e := range events {
			if err := conn.WriteJSON(e, s.cfg.WriteTimeout); err != nil {
				return
			}
		}
		cursor = next

		if status.IsTerminal() {
			if status == domain.RunStatusError {
				s.sendRunError(conn, runID)
			}
			s.closeNormally(conn)
			return
		}

		select {
		case <-closed:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}

func (s *Server) sendRunError(conn *Connection, runID string) {
	run, ok := s.registry.Get(runID)
	if !ok {
		return
	}
	conn.WriteJSON(protocol.RunErrorMessage{
		BaseMessage: protocol.NewBase(protocol.TypeRunError, runID),
		Error:       run.Error,
	}, s.cfg.WriteTimeout)
}

// HandleEvents subscribes the connection to the activity feed.
// GET /ws/events
func (s *Server) HandleEvents(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	conn.Feed = true
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from a feed subscriber until it disconnects.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump writes messages to a feed subscriber.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) closeNormally(conn *Connection) {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, runID, code, message string) {
	msg := protocol.ErrorMessage{
		BaseMessage: protocol.NewBase(protocol.TypeError, runID),
		Code:        code,
		Message:     message,
	}
	if err := conn.WriteJSON(msg, s.cfg.WriteTimeout); err != nil {
		log.Printf("Failed to send error: %v", err)
	}
}
