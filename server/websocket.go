package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/rag"
)

// Client message types.
const (
	MessageDocument = "document"
	MessageURL      = "url"
	MessageQuestion = "question"
	MessageReset    = "reset"
)

// Server message types.
const (
	MessageStatus   = "status"
	MessageResponse = "response"
	MessageError    = "error"
)

type Message struct {
	Type    string      `json:"type"`
	Name    string      `json:"name,omitempty"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// handleWebSocket gives each connection its own session and handles its
// messages in arrival order.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, err := s.newSession(true)
	if err != nil {
		s.sendMessage(conn, MessageError, err.Error())
		return
	}
	defer s.dropSession(session.ID)

	s.sendData(conn, MessageStatus, "Connected. Send a document or URL to begin.", gin.H{"session_id": session.ID})

	ctx := c.Request.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Error reading message: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, MessageError, fmt.Sprintf("invalid message: %v", err))
			continue
		}

		s.handleMessage(ctx, conn, session, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, session *rag.Session, msg Message) {
	switch msg.Type {
	case MessageReset:
		session.Reset()
		s.sendMessage(conn, MessageStatus, "Session cleared.")
		return
	case MessageDocument, MessageURL, MessageQuestion:
	default:
		s.sendMessage(conn, MessageError, fmt.Sprintf("unknown message type %q", msg.Type))
		return
	}

	if !s.pipeline.HasGenerator() {
		s.sendMessage(conn, MessageError, "service unavailable: "+types.ErrMissingCredential.Error())
		return
	}

	if msg.Type == MessageQuestion {
		answer, err := s.pipeline.Ask(ctx, session, msg.Content)
		if err != nil {
			s.sendMessage(conn, MessageError, err.Error())
			return
		}
		s.sendData(conn, MessageResponse, answer.Text, answer.Context)
		return
	}

	doc, err := s.messageDocument(ctx, conn, msg)
	if err != nil {
		s.sendMessage(conn, MessageError, err.Error())
		return
	}

	s.sendMessage(conn, MessageStatus, fmt.Sprintf("Processing %s...", doc.Name))
	chunks, err := s.pipeline.Process(ctx, session, doc, nil)
	if err != nil {
		log.Printf("SERVER ERROR: session %s: %v", session.ID, err)
		s.sendMessage(conn, MessageError, err.Error())
		return
	}
	s.sendData(conn, MessageStatus, fmt.Sprintf("Processed %s into %d chunks. Ask away.", doc.Name, chunks),
		documentResponse{Name: doc.Name, Chunks: chunks})
}

func (s *Server) messageDocument(ctx context.Context, conn *websocket.Conn, msg Message) (*models.Document, error) {
	if msg.Type == MessageURL {
		s.sendMessage(conn, MessageStatus, fmt.Sprintf("Fetching URL: %s", msg.Content))
		return s.loader.Fetch(ctx, msg.Content)
	}

	name := msg.Name
	if name == "" {
		name = "message.txt"
	}
	// Messages carry text, so only html is taken from the name.
	docType := loader.TypeTXT
	if loader.TypeFromName(name) == loader.TypeHTML {
		docType = loader.TypeHTML
	}
	return s.loader.LoadType(docType, name, []byte(msg.Content))
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	s.sendData(conn, msgType, content, nil)
}

func (s *Server) sendData(conn *websocket.Conn, msgType string, content string, data interface{}) {
	msg := Message{
		Type:    msgType,
		Content: content,
		Data:    data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
