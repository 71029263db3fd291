package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/metrics"
	"github.com/PaulBabatuyi/roomchat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultMaxContentLength bounds message content in runes.
const DefaultMaxContentLength = 4096

// MessageStore persists messages and re-reads them for rendering.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *data.Message) (*data.Message, error)
	GetPopulatedMessage(ctx context.Context, id bson.ObjectID) (*data.MessageView, error)
}

// LatestMessageUpdater moves a conversation's latest-message pointer.
type LatestMessageUpdater interface {
	UpdateLatestMessage(ctx context.Context, chatID, messageID bson.ObjectID) error
}

// IngestPipeline validates, persists and populates inbound messages.
type IngestPipeline struct {
	members    *MembershipValidator
	messages   MessageStore
	chats      LatestMessageUpdater
	maxContent int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewIngestPipeline(members *MembershipValidator, messages MessageStore, chats LatestMessageUpdater, maxContent int, logger *slog.Logger, m *metrics.Metrics) *IngestPipeline {
	if maxContent <= 0 {
		maxContent = DefaultMaxContentLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestPipeline{
		members:    members,
		messages:   messages,
		chats:      chats,
		maxContent: maxContent,
		logger:     logger,
		metrics:    m,
	}
}

// Ingest runs the send_message pipeline for senderID and returns the stored
// message with sender and conversation populated.
func (p *IngestPipeline) Ingest(ctx context.Context, senderID bson.ObjectID, req SendMessage) (*data.MessageView, error) {
	msg, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	chat, err := p.members.Authorize(ctx, senderID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	msg.Sender = senderID
	msg.Chat = chat.ID

	saved, err := p.messages.CreateMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, data.ErrImageGroupShape) {
			return nil, validationError(err)
		}
		return nil, storageError("create message", err)
	}

	if err := p.chats.UpdateLatestMessage(ctx, chat.ID, saved.ID); err != nil {
		p.logger.Warn("update latest message failed",
			"chat_id", chat.ID.Hex(), "message_id", saved.ID.Hex(), "error", err)
	}

	view, err := p.messages.GetPopulatedMessage(ctx, saved.ID)
	if err != nil {
		return nil, storageError("load message", err)
	}
	p.metrics.MessageIngested(string(saved.MessageType))
	return view, nil
}

// validate applies the request rules in order: conversation id, text
// content, single media reference, and finally content-or-media.
func (p *IngestPipeline) validate(req SendMessage) (*data.Message, error) {
	if _, err := ParseConversationID(req.ConversationID); err != nil {
		return nil, err
	}

	mt := data.MessageType(strings.ToLower(strings.TrimSpace(req.MessageType)))
	if mt == "" {
		mt = data.MessageText
	}
	if !mt.Valid() {
		return nil, validationError(ErrUnknownMessageType)
	}

	if utf8.RuneCountInString(strings.TrimSpace(req.Content)) > p.maxContent {
		return nil, validationError(ErrContentTooLong)
	}
	content := normalize.Content(req.Content)
	mediaURL := strings.TrimSpace(req.MediaURL)
	var mediaURLs []string
	for _, u := range req.MediaURLs {
		if u = strings.TrimSpace(u); u != "" {
			mediaURLs = append(mediaURLs, u)
		}
	}

	if mt == data.MessageText && content == "" {
		return nil, validationError(ErrEmptyText)
	}
	if mt.SingleMedia() && mediaURL == "" {
		return nil, validationError(ErrMissingMedia)
	}
	if content == "" && mediaURL == "" && len(mediaURLs) == 0 {
		return nil, validationError(ErrEmptyMessage)
	}

	msg := &data.Message{
		Content:     content,
		MessageType: mt,
		MediaURL:    mediaURL,
	}
	if mt == data.MessageImageGroup {
		msg.MediaURL = ""
		msg.MediaURLs = mediaURLs
		msg.ImageCount = req.ImageCount
	}
	return msg, nil
}
