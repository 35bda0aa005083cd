package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/raghavao7/lossflip/internal/metrics"
	"github.com/raghavao7/lossflip/internal/models"
	"github.com/raghavao7/lossflip/internal/store"
	"github.com/raghavao7/lossflip/internal/ws"
)

const (
	maxBodyLen = 2000

	// rateLimit caps live sends per sender per minute window.
	rateLimit = 30
)

var (
	ErrEmptyBody    = errors.New("chat: empty message body")
	ErrBodyTooLong  = errors.New("chat: message body too long")
	ErrNotMember    = errors.New("chat: not a participant of this thread")
	ErrRateLimited  = errors.New("chat: rate limit exceeded")
	ErrUnknownOrder = errors.New("chat: unknown order")
)

// Publisher fans events out to room members.
type Publisher interface {
	Publish(room string, ev ws.Event)
}

// Service owns the message log and the delivery/seen protocol. It is the
// dispatcher behind every live session.
type Service struct {
	db   store.DataStore
	msgs store.MessageStore
	pub  Publisher
	log  zerolog.Logger
}

// NewService creates the chat service.
func NewService(db store.DataStore, msgs store.MessageStore, pub Publisher, log zerolog.Logger) *Service {
	return &Service{db: db, msgs: msgs, pub: pub, log: log.With().Str("component", "chat").Logger()}
}

// Authorize checks room access: order rooms are restricted to the two
// parties, listing rooms are open to any authenticated user for pre-order
// questions.
func (s *Service) Authorize(ctx context.Context, actor models.Identity, orderID, listingID string) error {
	if orderID == "" {
		if listingID == "" {
			return ErrUnknownOrder
		}
		return nil
	}
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.IsParticipant(actor.UserID) {
		return ErrNotMember
	}
	return nil
}

// SendChat appends a user message to the thread and fans it out to the room.
// The counterpart's inbox is nudged so unread badges update even when their
// chat view is closed.
func (s *Service) SendChat(ctx context.Context, from models.Identity, listingID, orderID, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyBody
	}
	if len(body) > maxBodyLen {
		return ErrBodyTooLong
	}

	ok, err := s.msgs.CheckRateLimit(ctx, from.UserID, rateLimit)
	if err == nil && !ok {
		return ErrRateLimited
	}

	var order *models.Order
	if orderID != "" {
		order, err = s.getOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.IsParticipant(from.UserID) {
			return ErrNotMember
		}
		listingID = order.ListingID.String()
	} else if listingID == "" {
		return ErrUnknownOrder
	}

	msg := &models.Message{
		OrderID:   orderID,
		ListingID: listingID,
		From:      models.Party{ID: from.UserID, Name: from.Name},
		Body:      body,
		Kind:      models.MessageKindUser,
	}
	if err := s.msgs.AddMessage(ctx, msg); err != nil {
		return err
	}
	if rerr := s.msgs.IncrementRateLimit(ctx, from.UserID); rerr != nil {
		s.log.Debug().Err(rerr).Msg("rate limit increment failed")
	}

	metrics.MessagesTotal.WithLabelValues(models.MessageKindUser).Inc()
	room := ws.ListingRoom(listingID)
	if orderID != "" {
		room = ws.OrderRoom(orderID)
	}
	s.pub.Publish(room, ws.Event{Type: ws.EventChatNew, Data: msg})

	if order != nil {
		counterpart := order.Counterpart(from.UserID)
		s.pub.Publish(ws.UserRoom(counterpart.ID), ws.Event{
			Type: ws.EventThreadUpdated,
			Data: ws.ThreadUpdatedPayload{OrderID: orderID},
		})
	}
	return nil
}

// AckDelivered records delivery marks for actor and fans the acknowledgement
// out to the order room so the sender's connections update their ticks.
// Marks are monotone and only apply to appended message ids.
func (s *Service) AckDelivered(ctx context.Context, actor models.Identity, orderID string, msgIDs []string) error {
	if orderID == "" || len(msgIDs) == 0 {
		return nil
	}
	marked, err := s.msgs.MarkDelivered(ctx, orderID, msgIDs, actor.UserID)
	if err != nil {
		return err
	}
	if len(marked) == 0 {
		return nil
	}
	metrics.TickAcksTotal.WithLabelValues("delivered").Add(float64(len(marked)))
	s.pub.Publish(ws.OrderRoom(orderID), ws.Event{
		Type: ws.EventChatDelivered,
		Data: ws.TickPayload{OrderID: orderID, MessageIDs: marked, UserID: actor.UserID},
	})
	return nil
}

// AckSeen records seen marks (which imply delivered) and fans them out.
func (s *Service) AckSeen(ctx context.Context, actor models.Identity, orderID string, msgIDs []string) error {
	if orderID == "" || len(msgIDs) == 0 {
		return nil
	}
	marked, err := s.msgs.MarkSeen(ctx, orderID, msgIDs, actor.UserID)
	if err != nil {
		return err
	}
	if len(marked) == 0 {
		return nil
	}
	metrics.TickAcksTotal.WithLabelValues("seen").Add(float64(len(marked)))
	s.pub.Publish(ws.OrderRoom(orderID), ws.Event{
		Type: ws.EventChatSeen,
		Data: ws.TickPayload{OrderID: orderID, MessageIDs: marked, UserID: actor.UserID},
	})
	return nil
}

// History returns the thread's messages in append order together with their
// tick state. Participants only.
func (s *Service) History(ctx context.Context, actor models.Identity, orderID string, limit int) ([]models.Message, map[string]models.Ticks, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !order.IsParticipant(actor.UserID) {
		return nil, nil, ErrNotMember
	}

	msgs, err := s.msgs.OrderMessages(ctx, orderID, limit)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	ticks, err := s.msgs.MessageTicks(ctx, orderID, ids)
	if err != nil {
		return nil, nil, err
	}
	return msgs, ticks, nil
}

func (s *Service) getOrder(ctx context.Context, orderID string) (*models.Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, ErrUnknownOrder
	}
	order, err := s.db.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownOrder
		}
		return nil, err
	}
	return order, nil
}
