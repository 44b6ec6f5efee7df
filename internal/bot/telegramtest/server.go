// Package telegramtest fakes the Telegram Bot API for tests.
package telegramtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	tgbot "github.com/go-telegram/bot"
)

// Token is the bot token the fake server accepts.
const Token = "123456:TEST"

// Call is one recorded Bot API request.
type Call struct {
	Method string
	Params map[string]string
}

// Server records Bot API calls and answers them like Telegram would.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	calls  []Call
	nextID int
	fail   map[string]bool
}

// New starts a fake server that is closed when t finishes.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{nextID: 100, fail: make(map[string]bool)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Bot returns a client pointed at the server.
func (s *Server) Bot(t *testing.T, opts ...tgbot.Option) *tgbot.Bot {
	t.Helper()
	opts = append([]tgbot.Option{tgbot.WithServerURL(s.URL), tgbot.WithSkipGetMe()}, opts...)
	b, err := tgbot.New(Token, opts...)
	if err != nil {
		t.Fatalf("create bot: %v", err)
	}
	return b
}

// Fail makes every later call of method return an API error.
func (s *Server) Fail(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = true
}

// Calls returns the recorded calls, optionally only those of method.
func (s *Server) Calls(method string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Texts returns the text of every sendMessage and editMessageText call, in order.
func (s *Server) Texts() []string {
	var out []string
	for _, c := range s.Calls("") {
		if c.Method == "sendMessage" || c.Method == "editMessageText" {
			out = append(out, c.Params["text"])
		}
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/bot"+Token+"/")
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	params := make(map[string]string)
	if err := r.ParseMultipartForm(1 << 20); err == nil && r.MultipartForm != nil {
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: path, Params: params})
	failing := s.fail[path]
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: forced failure",
		})
		return
	}

	var result interface{} = true
	switch path {
	case "sendMessage":
		result = message(id, params)
	case "editMessageText":
		msgID, _ := strconv.Atoi(params["message_id"])
		result = message(msgID, params)
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
}

func message(id int, params map[string]string) map[string]interface{} {
	chatID, _ := strconv.ParseInt(params["chat_id"], 10, 64)
	return map[string]interface{}{
		"message_id": id,
		"date":       0,
		"chat":       map[string]interface{}{"id": chatID, "type": "private"},
		"text":       params["text"],
	}
}

// String describes a call for assertion messages.
func (c Call) String() string {
	return fmt.Sprintf("%s %v", c.Method, c.Params)
}
