package telegram

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/transport"
)

func TestGetUpdates_ParsesMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getUpdates" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("offset"); got != "42" {
			t.Errorf("unexpected offset: %s", got)
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":42,"message":{"chat":{"id":123},"text":"hello","date":1700000000}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	updates, err := c.GetUpdates(42, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Text == nil {
		t.Fatalf("unexpected updates: %#v", updates)
	}
	if *updates[0].Message.Text != "hello" || updates[0].Message.Chat.ID != 123 {
		t.Fatalf("unexpected message: %#v", updates[0].Message)
	}
}

func TestGetUpdates_MapsCallbackQueryToMessage(t *testing.T) {
	var answered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getUpdates":
			_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":11,"callback_query":{"id":"cb-1","data":"/reset","message":{"chat":{"id":123},"date":1700000000}}}]}`)
		case "/answerCallbackQuery":
			answered = true
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	updates, err := c.GetUpdates(0, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Text == nil {
		t.Fatalf("unexpected updates: %#v", updates)
	}
	if *updates[0].Message.Text != "/reset" {
		t.Fatalf("unexpected callback mapped text: %q", *updates[0].Message.Text)
	}
	if !answered {
		t.Fatal("expected answerCallbackQuery to be called")
	}
}

func TestGetUpdates_ClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("offset") {
		case "1":
			_, _ = io.WriteString(w, `not json`)
		case "2":
			_, _ = io.WriteString(w, `{"ok":false,"description":"Unauthorized"}`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)

	_, err := c.GetUpdates(1, 0)
	if err == nil || transport.FailureClass(err) != transport.FailDecode {
		t.Fatalf("expected decode failure, got %v", err)
	}

	_, err = c.GetUpdates(2, 0)
	if err == nil || transport.FailureClass(err) != transport.FailAPI {
		t.Fatalf("expected api failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected description in error, got %v", err)
	}

	srv.Close()
	_, err = c.GetUpdates(3, 0)
	if err == nil || transport.FailureClass(err) != transport.FailNetwork {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestSendMessage_TruncatesLongText(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	if err := c.SendMessage(123, strings.Repeat("x", 5000)); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if got.ChatID != 123 {
		t.Fatalf("unexpected chat_id: %d", got.ChatID)
	}
	if len(got.Text) != maxMessageChars {
		t.Fatalf("expected truncation to %d chars, got %d", maxMessageChars, len(got.Text))
	}
}

func TestSendMenu_SendsInlineKeyboard(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	buttons := [][]transport.Button{
		{{Label: "Help", Command: "/help"}, {Label: "Reset", Command: "/reset"}},
	}
	if err := c.SendMenu(123, "welcome", buttons); err != nil {
		t.Fatalf("SendMenu failed: %v", err)
	}
	if !strings.Contains(gotBody, `"inline_keyboard"`) {
		t.Fatalf("expected inline keyboard payload, got: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"callback_data":"/help"`) {
		t.Fatalf("expected help callback_data, got: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"callback_data":"/reset"`) {
		t.Fatalf("expected reset callback_data, got: %s", gotBody)
	}
}

func TestSendTyping(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendChatAction" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	if err := c.SendTyping(123); err != nil {
		t.Fatalf("SendTyping failed: %v", err)
	}
	if !strings.Contains(gotBody, `"action":"typing"`) {
		t.Fatalf("expected typing action, got: %s", gotBody)
	}
}
