package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/rag"
	"github.com/xhad/docqa/server"
)

const parisText = "Paris is the capital of France. It is known for the Eiffel Tower."

type echoGenerator struct{}

// Generate answers with the best passage.
func (echoGenerator) Generate(_ context.Context, _ string, passages []string) (string, error) {
	if len(passages) == 0 {
		return "I don't have enough information to answer this question.", nil
	}
	return "From the document: " + passages[0], nil
}

func newServer(t *testing.T, withGenerator bool) *server.Server {
	t.Helper()
	return newServerWithConfig(t, withGenerator, server.Config{})
}

func newServerWithConfig(t *testing.T, withGenerator bool, config server.Config) *server.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	splitter, err := processor.New(200, 20)
	require.NoError(t, err)

	var generator types.Generator
	if withGenerator {
		generator = echoGenerator{}
	}

	pipeline, err := rag.New(rag.Config{}, splitter, llm.NewEmbedderWithBackend(llm.NewHashingModel(4096)), generator)
	require.NoError(t, err)

	return server.NewWithConfig(config, pipeline, loader.NewWithConfig(loader.LoaderConfig{RateLimit: 100}))
}

func do(t *testing.T, srv *server.Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, srv *server.Server) string {
	t.Helper()
	w := do(t, srv, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func uploadRequest(t *testing.T, id, filename, content, docType string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	if docType != "" {
		require.NoError(t, mw.WriteField("type", docType))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/document", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, v interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name          string
		withGenerator bool
		want          string
	}{
		{name: "available", withGenerator: true, want: "available"},
		{name: "unavailable", withGenerator: false, want: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newServer(t, tt.withGenerator), httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "healthy", resp["status"])
			assert.Equal(t, tt.want, resp["generator"])
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := newServer(t, true)
	id := createSession(t, srv)
	assert.NotEqual(t, id, createSession(t, srv))

	w := do(t, srv, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+id, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/query", map[string]string{"question": "hi"}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, uploadRequest(t, "missing", "paris.txt", parisText, ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionLimit(t *testing.T) {
	srv := newServerWithConfig(t, true, server.Config{MaxSessions: 2})
	first := createSession(t, srv)
	createSession(t, srv)

	w := do(t, srv, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "too many open sessions")

	w = do(t, srv, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+first, nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	createSession(t, srv)
}

func TestSessionExpiry(t *testing.T) {
	srv := newServerWithConfig(t, true, server.Config{MaxSessions: 1, SessionTTL: 50 * time.Millisecond})
	id := createSession(t, srv)

	w := do(t, srv, uploadRequest(t, id, "paris.txt", parisText, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	time.Sleep(150 * time.Millisecond)

	w = do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/query", map[string]string{"question": "What is Paris known for?"}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// the expired session no longer counts toward the limit
	createSession(t, srv)
}

func TestWebSocketSessionsDoNotExpire(t *testing.T) {
	srv := newServerWithConfig(t, true, server.Config{MaxSessions: 1, SessionTTL: 50 * time.Millisecond})
	conn := dial(t, srv)

	time.Sleep(150 * time.Millisecond)

	w := do(t, srv, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageReset}))
	msg := readMessage(t, conn)
	assert.Equal(t, server.MessageStatus, msg.Type)
}

func TestUploadAndQuery(t *testing.T) {
	srv := newServer(t, true)
	id := createSession(t, srv)

	w := do(t, srv, uploadRequest(t, id, "paris.txt", parisText, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc struct {
		Name   string `json:"name"`
		Chunks int    `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "paris.txt", doc.Name)
	assert.Equal(t, 1, doc.Chunks)

	w = do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/query", map[string]string{
		"question": "What is Paris known for?",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var answer models.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &answer))
	assert.Equal(t, "What is Paris known for?", answer.Question)
	assert.Equal(t, "From the document: "+parisText, answer.Text)
	assert.Equal(t, 5, answer.K)
	require.Len(t, answer.Context, 1)
	assert.Equal(t, 0, answer.Context[0].Ordinal)
	assert.Equal(t, parisText, answer.Context[0].Text)
}

func TestUploadDeclaredType(t *testing.T) {
	srv := newServer(t, true)
	id := createSession(t, srv)

	w := do(t, srv, uploadRequest(t, id, "upload.bin", parisText, "txt"))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestInputErrors(t *testing.T) {
	srv := newServer(t, true)
	id := createSession(t, srv)

	w := do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/query", map[string]string{"question": "anything?"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), types.ErrNoDocument.Error())

	w = do(t, srv, uploadRequest(t, id, "report.docx", "binary", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), types.ErrUnsupportedFileType.Error())

	w = do(t, srv, uploadRequest(t, id, "blank.txt", "   \n\t ", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/document", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, do(t, srv, uploadRequest(t, id, "paris.txt", parisText, "")).Code)
	w = do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/query", map[string]string{"question": "   "}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), types.ErrEmptyQuestion.Error())
}

func TestUploadURL(t *testing.T) {
	docs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paris.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(parisText))
	}))
	defer docs.Close()

	srv := newServer(t, true)
	id := createSession(t, srv)

	w := do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/document", map[string]string{"url": docs.URL + "/paris.txt"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"name":"paris.txt"`)

	w = do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/document", map[string]string{"url": docs.URL + "/missing.txt"}))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestUnavailableGenerator(t *testing.T) {
	srv := newServer(t, false)
	id := createSession(t, srv)

	w := do(t, srv, uploadRequest(t, id, "paris.txt", parisText, ""))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "service unavailable")

	w = do(t, srv, jsonRequest(t, http.MethodPost, "/api/v1/sessions/"+id+"/query", map[string]string{"question": "hi"}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func readMessage(t *testing.T, conn *websocket.Conn) server.Message {
	t.Helper()
	var msg server.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func dial(t *testing.T, srv *server.Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := readMessage(t, conn)
	require.Equal(t, server.MessageStatus, hello.Type)
	return conn
}

func TestWebSocketChat(t *testing.T) {
	conn := dial(t, newServer(t, true))

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageQuestion, Content: "What is Paris known for?"}))
	msg := readMessage(t, conn)
	assert.Equal(t, server.MessageError, msg.Type)
	assert.Contains(t, msg.Content, types.ErrNoDocument.Error())

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageDocument, Name: "paris.txt", Content: parisText}))
	msg = readMessage(t, conn)
	assert.Equal(t, server.MessageStatus, msg.Type)
	assert.Contains(t, msg.Content, "Processing paris.txt")
	msg = readMessage(t, conn)
	assert.Equal(t, server.MessageStatus, msg.Type)
	assert.Contains(t, msg.Content, "1 chunks")

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageQuestion, Content: "What is Paris known for?"}))
	msg = readMessage(t, conn)
	assert.Equal(t, server.MessageResponse, msg.Type)
	assert.Equal(t, "From the document: "+parisText, msg.Content)

	passages, ok := msg.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, passages, 1)

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageReset}))
	msg = readMessage(t, conn)
	assert.Equal(t, "Session cleared.", msg.Content)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "dance"}))
	msg = readMessage(t, conn)
	assert.Equal(t, server.MessageError, msg.Type)
}

func TestWebSocketUnavailable(t *testing.T) {
	conn := dial(t, newServer(t, false))

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.MessageDocument, Content: parisText}))
	msg := readMessage(t, conn)
	assert.Equal(t, server.MessageError, msg.Type)
	assert.Contains(t, msg.Content, "service unavailable")
}
