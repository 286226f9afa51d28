package bot

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"because/internal/config"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// Handler holds dependencies for the Telegram bot handlers.
type Handler struct {
	bot         *tgbot.Bot
	commands    *Commands
	allowedUser int64
	log         logrus.FieldLogger
}

// NewHandler creates a new bot handler instance.
func NewHandler(cfg config.Config, commands *Commands, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	h := &Handler{
		commands:    commands,
		allowedUser: cfg.TelegramAllowedUser,
		log:         log,
	}

	b, err := tgbot.New(cfg.TelegramBotToken,
		tgbot.WithMiddlewares(h.onlyAllowedUser),
		tgbot.WithDefaultHandler(h.defaultHandler),
	)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	h.bot = b

	h.registerHandlers()

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// registerHandlers sets up the command handlers. Everything else, including
// the remaining commands, goes through the default handler.
func (h *Handler) registerHandlers() {
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	h.log.Info("Registered /start command handler")
}

// Start begins polling for updates from Telegram.
// This function blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

// onlyAllowedUser drops updates from anyone but the configured user.
func (h *Handler) onlyAllowedUser(next tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		if !Allowed(h.allowedUser, update.Message.From.ID) {
			h.log.WithField("user_id", update.Message.From.ID).Warn("Ignoring message from unknown user")
			return
		}
		next(ctx, b, update)
	}
}

// Allowed reports whether userID may use the bot. Zero allows everyone.
func Allowed(allowed, userID int64) bool {
	return allowed == 0 || allowed == userID
}

func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.log.WithFields(logrus.Fields{
		"user_id": update.Message.From.ID,
		"command": "/start",
	}).Info("Received /start command")
	h.send(ctx, b, update.Message.Chat.ID, h.commands.Respond(ctx, "/start"))
}

func (h *Handler) defaultHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	name, _ := ParseCommand(update.Message.Text)
	h.log.WithFields(logrus.Fields{
		"user_id": update.Message.From.ID,
		"command": name,
	}).Debug("Received message")

	h.send(ctx, b, update.Message.Chat.ID, h.commands.Respond(ctx, update.Message.Text))
}

func (h *Handler) send(ctx context.Context, b *tgbot.Bot, chatID int64, reply Reply) {
	text := reply.Text
	if len(text) > maxMessageLen {
		text = strings.ToValidUTF8(text[:maxMessageLen-3], "") + "..."
	}
	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		h.log.WithError(err).Error("Failed to send reply")
	}

	if reply.Document == nil {
		return
	}
	if _, err := b.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: reply.Document.Name,
			Data:     bytes.NewReader(reply.Document.Data),
		},
	}); err != nil {
		h.log.WithError(err).Error("Failed to send export")
	}
}
