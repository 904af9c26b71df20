package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/noah-isme/course-automation/pkg/config"
)

// Client sends plain text messages to Telegram groups and channels.
type Client struct {
	bot *tgbotapi.BotAPI
}

// New authenticates the bot token against the Telegram API.
func New(cfg config.TelegramConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return &Client{bot: bot}, nil
}

// SendMessage delivers text to a chat id, an @channel or a public t.me link.
func (c *Client) SendMessage(ctx context.Context, destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, username, err := ResolveChat(destination)
	if err != nil {
		return err
	}
	var msg tgbotapi.MessageConfig
	if username != "" {
		msg = tgbotapi.NewMessageToChannel(username, text)
	} else {
		msg = tgbotapi.NewMessage(chatID, text)
	}
	msg.DisableWebPagePreview = true
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %s: %w", destination, err)
	}
	return nil
}

// ResolveChat maps a stored group link onto a numeric chat id or a channel username.
func ResolveChat(destination string) (int64, string, error) {
	dest := strings.TrimSpace(destination)
	if dest == "" {
		return 0, "", fmt.Errorf("telegram destination is empty")
	}
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(dest, prefix) {
			path := strings.TrimPrefix(dest, prefix)
			if i := strings.IndexAny(path, "?#"); i >= 0 {
				path = path[:i]
			}
			path = strings.Trim(path, "/")
			if path == "" {
				return 0, "", fmt.Errorf("telegram link %q has no chat name", destination)
			}
			if strings.HasPrefix(path, "+") || strings.HasPrefix(path, "joinchat/") {
				return 0, "", fmt.Errorf("telegram invite link %q cannot be used as a destination", destination)
			}
			return 0, "@" + path, nil
		}
	}
	if strings.HasPrefix(dest, "@") {
		return 0, dest, nil
	}
	id, err := strconv.ParseInt(dest, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("unsupported telegram destination %q", destination)
	}
	return id, "", nil
}
