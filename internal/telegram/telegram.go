package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/transport"
)

// Telegram caps message text at 4096 chars; stay under it.
const maxMessageChars = 3900

// Client is a minimal Telegram Bot API client implementing
// transport.Transport.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

type rawUpdate struct {
	UpdateID      int64              `json:"update_id"`
	Message       *transport.Message `json:"message,omitempty"`
	CallbackQuery *callbackQuery     `json:"callback_query,omitempty"`
}

type callbackQuery struct {
	ID      string             `json:"id"`
	Data    string             `json:"data"`
	Message *transport.Message `json:"message,omitempty"`
}

// GetUpdates long-polls the getUpdates API. Callback queries are
// acknowledged and mapped to plain messages carrying their data as text,
// so inline-button presses flow through the same dispatch as typed
// commands.
func (c *Client) GetUpdates(offset int64, timeout int) ([]transport.Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	resp, err := c.httpClient.Get(c.apiBase + "/getUpdates?" + params.Encode())
	if err != nil {
		return nil, &transport.Failure{Class: transport.FailNetwork,
			Err: fmt.Errorf("telegram getUpdates request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transport.Failure{Class: transport.FailNetwork,
			Err: fmt.Errorf("failed to read getUpdates response: %w", err)}
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return nil, &transport.Failure{Class: transport.FailDecode,
			Err: fmt.Errorf("failed to parse getUpdates response: %w", err)}
	}
	if !tgResp.OK {
		return nil, &transport.Failure{Class: transport.FailAPI,
			Err: fmt.Errorf("telegram getUpdates returned ok=false: %s", tgResp.Description)}
	}

	var raws []rawUpdate
	if err := json.Unmarshal(tgResp.Result, &raws); err != nil {
		return nil, &transport.Failure{Class: transport.FailDecode,
			Err: fmt.Errorf("failed to parse getUpdates result: %w", err)}
	}

	updates := make([]transport.Update, 0, len(raws))
	for _, ru := range raws {
		if ru.Message != nil {
			updates = append(updates, transport.Update{UpdateID: ru.UpdateID, Message: ru.Message})
			continue
		}
		if ru.CallbackQuery != nil && ru.CallbackQuery.Message != nil {
			msg := *ru.CallbackQuery.Message
			data := strings.TrimSpace(ru.CallbackQuery.Data)
			msg.Text = &data
			if msg.Date == 0 {
				msg.Date = time.Now().Unix()
			}
			updates = append(updates, transport.Update{UpdateID: ru.UpdateID, Message: &msg})
			_ = c.answerCallbackQuery(ru.CallbackQuery.ID)
		}
	}
	return updates, nil
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// SendMessage sends a text message to the given chat.
func (c *Client) SendMessage(chatID int64, text string) error {
	return c.send("sendMessage", sendMessageRequest{
		ChatID: chatID,
		Text:   truncate(text, maxMessageChars),
	})
}

// SendMenu sends a text message with an inline quick-action keyboard.
func (c *Client) SendMenu(chatID int64, text string, buttons [][]transport.Button) error {
	markup := &replyMarkup{InlineKeyboard: make([][]inlineButton, 0, len(buttons))}
	for _, row := range buttons {
		line := make([]inlineButton, 0, len(row))
		for _, b := range row {
			line = append(line, inlineButton{Text: b.Label, CallbackData: b.Command})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, line)
	}
	return c.send("sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        truncate(text, maxMessageChars),
		ReplyMarkup: markup,
	})
}

// SendTyping shows a typing indicator in the given chat.
func (c *Client) SendTyping(chatID int64) error {
	return c.send("sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
}

func (c *Client) send(method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}
	resp, err := c.httpClient.Post(
		c.apiBase+"/"+method,
		"application/json",
		strings.NewReader(string(body)),
	)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(resp.Body) // drain
	return nil
}

func (c *Client) answerCallbackQuery(callbackID string) error {
	callbackID = strings.TrimSpace(callbackID)
	if callbackID == "" {
		return nil
	}
	return c.send("answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
	})
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
