package bot

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ChatCore/internal/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// TgBot delivers notifications to the admin chat and doubles as the sink for
// mirrored log records. It implements the coordinator's Presenter surface:
// notifications are grouped per conversation, so a repeated Present for the
// same group key edits the existing Telegram message instead of stacking a
// new one.
type TgBot struct {
	log         *slog.Logger
	api         *tgbotapi.Bot
	botUsername string
	adminId     int64

	mu     sync.Mutex
	groups map[string]int64 // group key -> telegram message id
}

func NewTgBot(botName, apiKey string, adminId int64, log *slog.Logger) (*TgBot, error) {
	tgBot := &TgBot{
		log:         log.With(sl.Module("tgbot")),
		adminId:     adminId,
		botUsername: botName,
		groups:      make(map[string]int64),
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

func (t *TgBot) Start() error {

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		// If an error is returned by a handler, log it and continue going.
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			log.Println("an error occurred while handling update:", err.Error())
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	updater := ext.NewUpdater(dispatcher, nil)

	// Start receiving updates.
	err := updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		panic("failed to start polling: " + err.Error())
	}

	// Idle, to keep updates coming in, and avoid bot stopping.
	updater.Idle()

	return nil
}

// Present shows (or updates) the notification for a conversation.
func (t *TgBot) Present(title, body, groupKey string) error {
	text := sanitize(fmt.Sprintf("%s\n%s", title, body), false)
	if text == "" {
		return nil
	}

	t.mu.Lock()
	msgId, exists := t.groups[groupKey]
	t.mu.Unlock()

	if exists {
		_, _, err := t.api.EditMessageText(text, &tgbotapi.EditMessageTextOpts{
			ChatId:    t.adminId,
			MessageId: msgId,
			ParseMode: "MarkdownV2",
		})
		if err == nil {
			return nil
		}
		t.log.With(
			slog.String("group", groupKey),
		).Warn("editing notification", sl.Err(err))
		// Fall through and send a fresh message.
	}

	sent, err := t.api.SendMessage(t.adminId, text, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		sent, err = t.api.SendMessage(t.adminId, text, &tgbotapi.SendMessageOpts{})
		if err != nil {
			t.log.With(
				slog.String("group", groupKey),
			).Error("sending notification", sl.Err(err))
			return err
		}
	}

	t.mu.Lock()
	t.groups[groupKey] = sent.MessageId
	t.mu.Unlock()
	return nil
}

// Cancel removes the notification for a conversation, if any.
func (t *TgBot) Cancel(groupKey string) error {
	t.mu.Lock()
	msgId, exists := t.groups[groupKey]
	delete(t.groups, groupKey)
	t.mu.Unlock()

	if !exists {
		return nil
	}
	if _, err := t.api.DeleteMessage(t.adminId, msgId, nil); err != nil {
		t.log.With(
			slog.String("group", groupKey),
		).Debug("deleting notification", sl.Err(err))
	}
	return nil
}

// BadgeCount has no Telegram analog; the per-conversation messages already
// carry the counts.
func (t *TgBot) BadgeCount(_ int) error {
	return nil
}

// SendMessage mirrors a plain message to the admin chat. Used as the log
// handler sink.
func (t *TgBot) SendMessage(msg string) {

	t.plainResponse(t.adminId, msg)
}

func (t *TgBot) plainResponse(chatId int64, text string) {

	text = strings.ReplaceAll(text, "**", "*")
	text = strings.ReplaceAll(text, "![", "[")

	sanitized := sanitize(text, false)

	if sanitized != "" {
		_, err := t.api.SendMessage(chatId, sanitized, &tgbotapi.SendMessageOpts{
			ParseMode: "MarkdownV2",
		})
		if err != nil {
			t.log.With(
				slog.Int64("id", chatId),
			).Warn("sending message", sl.Err(err))
			_, err = t.api.SendMessage(chatId, sanitized, &tgbotapi.SendMessageOpts{})
			if err != nil {
				t.log.With(
					slog.Int64("id", chatId),
				).Error("sending safe message", sl.Err(err))
			}
		}
	} else {
		t.log.With(
			slog.Int64("id", chatId),
		).Debug("empty message")
	}
}

func sanitize(input string, preserveLinks bool) string {
	// Define a list of reserved characters that need to be escaped
	reservedChars := "\\`_{}#+-.!|()[]"
	if preserveLinks {
		reservedChars = "\\`_{}#+-.!|"
	}

	sanitized := ""
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sanitized += "\\" + string(char)
		} else {
			sanitized += string(char)
		}
	}

	return sanitized
}
