package realtime

import (
	"context"
	"strings"

	"github.com/PaulBabatuyi/roomchat/internal/metrics"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ReceiptStore records read receipts.
type ReceiptStore interface {
	MarkReadByUser(ctx context.Context, chatID bson.ObjectID, ids []bson.ObjectID, userID bson.ObjectID) ([]bson.ObjectID, error)
}

// ReceiptPipeline runs mark_as_read requests.
type ReceiptPipeline struct {
	members  *MembershipValidator
	receipts ReceiptStore
	metrics  *metrics.Metrics
}

func NewReceiptPipeline(members *MembershipValidator, receipts ReceiptStore, m *metrics.Metrics) *ReceiptPipeline {
	return &ReceiptPipeline{members: members, receipts: receipts, metrics: m}
}

// MarkRead adds userID to readBy of the listed messages. Messages already
// read are left alone, so repeating a request is harmless. The update lists
// every requested id, not only the ones that changed.
func (p *ReceiptPipeline) MarkRead(ctx context.Context, userID bson.ObjectID, req MarkAsRead) (*ReadUpdate, error) {
	if _, err := ParseConversationID(req.ConversationID); err != nil {
		return nil, err
	}
	ids, err := parseMessageIDs(req.MessageIDs)
	if err != nil {
		return nil, err
	}

	chat, err := p.members.Authorize(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	changed, err := p.receipts.MarkReadByUser(ctx, chat.ID, ids, userID)
	if err != nil {
		return nil, storageError("mark messages read", err)
	}
	p.metrics.ReceiptsMarked(len(changed))

	hex := make([]string, len(ids))
	for i, id := range ids {
		hex[i] = id.Hex()
	}
	return &ReadUpdate{
		ConversationID: chat.ID.Hex(),
		MessageIDs:     hex,
		UserID:         userID.Hex(),
		Changed:        len(changed),
	}, nil
}

// parseMessageIDs rejects an empty list or any malformed id and drops
// duplicates, keeping the first occurrence.
func parseMessageIDs(raw []string) ([]bson.ObjectID, error) {
	if len(raw) == 0 {
		return nil, validationError(ErrEmptyMessageIDs)
	}
	seen := make(map[bson.ObjectID]struct{}, len(raw))
	ids := make([]bson.ObjectID, 0, len(raw))
	for _, s := range raw {
		id, err := bson.ObjectIDFromHex(strings.TrimSpace(s))
		if err != nil {
			return nil, validationError(ErrInvalidMessageID)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
