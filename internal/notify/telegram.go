// Package notify relays moderation-relevant Control Bus events to an
// administrative Telegram chat, adapted from the push half of the
// teacher's admin bot (the inbound command-polling half has no equivalent
// here: there is nothing for an admin to command over chat in this
// domain, see the design notes).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"canvashub/internal/bus"
)

const (
	telegramAPIURL = "https://api.telegram.org/bot%s/sendMessage"
	requestTimeout = 10 * time.Second
)

// Notifier subscribes to one canvas's Control Bus and pushes a Telegram
// message for moderation-relevant events. It quietly no-ops if the bot
// token or chat ID are unset, exactly like the teacher's InitializeBot.
type Notifier struct {
	token  string
	chatID string
	client *http.Client
	log    *zap.SugaredLogger
}

// New builds a Notifier. If token or chatID is empty, Watch returns
// immediately without subscribing to anything.
func New(token, chatID string, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: requestTimeout + 5*time.Second},
		log:    log,
	}
}

func (n *Notifier) enabled() bool {
	return n.token != "" && n.chatID != ""
}

// Watch subscribes to canvasBus and pushes a message whenever moderation is
// toggled or ownership changes hands, until ctx is cancelled.
func (n *Notifier) Watch(ctx context.Context, canvasID string, canvasBus *bus.Bus) {
	if !n.enabled() {
		n.log.Infow("moderation notifier disabled: TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set")
		return
	}

	sub := canvasBus.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			n.handle(canvasID, msg)
		}
	}
}

func (n *Notifier) handle(canvasID string, msg bus.Message) {
	if text, ok := messageFor(canvasID, msg); ok {
		n.send(text)
	}
}

// messageFor renders the notification text for a control-plane event, or
// reports false for events this notifier has nothing to say about (e.g. a
// right grant that isn't an ownership grant). Split out from handle so the
// message-selection logic can be tested without making a network call.
func messageFor(canvasID string, msg bus.Message) (string, bool) {
	switch msg.Kind {
	case bus.ModeratedChanged:
		state := "disabled"
		if msg.Moderated != nil && *msg.Moderated {
			state = "enabled"
		}
		return fmt.Sprintf("Moderation %s on canvas %s", state, canvasID), true
	case bus.RightChanged:
		if msg.Right != nil && *msg.Right == "O" {
			return fmt.Sprintf("User %s granted ownership of canvas %s", msg.UserID, canvasID), true
		}
	}
	return "", false
}

func (n *Notifier) send(text string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				n.log.Errorw("recovered from panic sending telegram message", "panic", r)
			}
		}()

		payload, err := json.Marshal(map[string]string{
			"chat_id": n.chatID,
			"text":    text,
		})
		if err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		url := fmt.Sprintf(telegramAPIURL, n.token)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			n.log.Errorw("failed to build telegram request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.log.Errorw("failed to send telegram message", "error", err)
			return
		}
		defer resp.Body.Close()
	}()
}
