package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/tubechat/pkg/index"
	"github.com/xhad/tubechat/pkg/ingest"
	"github.com/xhad/tubechat/pkg/llm"
	"github.com/xhad/tubechat/pkg/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type Config struct {
	Port         string
	IndexTimeout time.Duration
	AskTimeout   time.Duration
}

type Server struct {
	config  Config
	session *session.Session
}

func New(config Config, sess *session.Session) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.IndexTimeout == 0 {
		config.IndexTimeout = 2 * time.Minute
	}
	if config.AskTimeout == 0 {
		config.AskTimeout = 90 * time.Second
	}

	return &Server{
		config:  config,
		session: sess,
	}
}

type indexRequest struct {
	URLs []string `json:"urls"`
}

type askRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode,omitempty"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/index_videos", s.handleIndexVideos)
	mux.HandleFunc("/ask_question", s.handleAskQuestion)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) Run() error {
	log.Printf("Starting server on port %s", s.config.Port)
	return http.ListenAndServe(":"+s.config.Port, s.Handler())
}

func (s *Server) handleIndexVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.URLs) == 0 {
		writeDetail(w, http.StatusBadRequest, "urls must not be empty")
		return
	}

	ctx, cancel := contextWithTimeout(r, s.config.IndexTimeout)
	defer cancel()

	outcome, err := s.session.IndexVideos(ctx, req.URLs)
	if err != nil {
		writeDetail(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"indexed_urls": urlsOrEmpty(outcome.IndexedURLs),
		"failures":     outcome.Failures,
		"videos":       outcome.Videos,
		"chunks":       outcome.Chunks,
		"timings":      outcome.Timings,
	})
}

func (s *Server) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question must not be empty"})
		return
	}
	if req.Mode != "" && req.Mode != "concise" && req.Mode != "detailed" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be concise or detailed"})
		return
	}

	ctx, cancel := contextWithTimeout(r, s.config.AskTimeout)
	defer cancel()

	answer, err := s.session.Ask(ctx, req.Question, req.Mode)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.session.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Error reading message: %v", err)
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		s.handleMessage(r, conn, msg)
	}
}

func (s *Server) handleMessage(r *http.Request, conn *websocket.Conn, msg Message) {
	content := strings.TrimSpace(msg.Content)

	msgType := msg.Type
	if msgType == "" {
		// Untyped messages: a YouTube link means index, anything else
		// is a question.
		if urlRegex.MatchString(content) {
			msgType = "index"
		} else {
			msgType = "question"
		}
	}

	switch msgType {
	case "index":
		urls := splitURLs(content)
		if len(urls) == 0 {
			s.sendMessage(conn, "error", "no URLs found in message")
			return
		}
		s.sendMessage(conn, "status", "Indexing videos...")

		ctx, cancel := contextWithTimeout(r, s.config.IndexTimeout)
		defer cancel()

		outcome, err := s.session.IndexVideos(ctx, urls)
		if err != nil {
			s.sendMessage(conn, "error", err.Error())
			return
		}
		s.sendData(conn, "indexed", "Indexing completed", outcome)

	case "question":
		ctx, cancel := contextWithTimeout(r, s.config.AskTimeout)
		defer cancel()

		answer, err := s.session.Ask(ctx, content, "")
		if err != nil {
			s.sendMessage(conn, "error", err.Error())
			return
		}
		s.sendData(conn, "response", answer.Text, answer)

	case "reset":
		s.session.Reset()
		s.sendMessage(conn, "status", "Session reset")

	default:
		s.sendMessage(conn, "error", "unknown message type: "+msgType)
	}
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

// statusFor distinguishes bad client input from upstream failures.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, index.ErrEmptyIndex):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrUnavailableTranscript):
		return http.StatusBadGateway
	case errors.Is(err, llm.ErrGenerationUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"status": "error", "detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func urlsOrEmpty(urls []string) []string {
	if urls == nil {
		return []string{}
	}
	return urls
}

func splitURLs(content string) []string {
	fields := strings.FieldsFunc(content, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t'
	})
	var urls []string
	for _, f := range fields {
		if urlRegex.MatchString(f) {
			urls = append(urls, f)
		}
	}
	return urls
}

func contextWithTimeout(r *http.Request, d time.Duration) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
