package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/raghavao7/lossflip/internal/models"
	"github.com/raghavao7/lossflip/internal/store"
	"github.com/raghavao7/lossflip/internal/ws"
)

var (
	seller = models.Identity{UserID: "seller-1", Name: "Sana"}
	buyer  = models.Identity{UserID: "buyer-1", Name: "Bhavesh"}
	lurker = models.Identity{UserID: "lurker-1", Name: "Lata"}
)

// fakeDB serves a single fixed order.
type fakeDB struct {
	order *models.Order
}

func (f *fakeDB) Close()                         {}
func (f *fakeDB) Ping(ctx context.Context) error { return nil }

func (f *fakeDB) CreateUser(ctx context.Context, u *models.User) error { return nil }
func (f *fakeDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, store.ErrNotFound
}
func (f *fakeDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return nil, store.ErrNotFound
}
func (f *fakeDB) CreateListing(ctx context.Context, l *models.Listing) error { return nil }
func (f *fakeDB) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return nil, store.ErrNotFound
}
func (f *fakeDB) ListListings(ctx context.Context, fl store.ListingFilter) ([]models.Listing, error) {
	return nil, nil
}
func (f *fakeDB) GetListingSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ListingSummary, error) {
	return nil, nil
}
func (f *fakeDB) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error) {
	return 0, nil
}
func (f *fakeDB) IncrementStock(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	return 0, nil
}
func (f *fakeDB) CreateOrder(ctx context.Context, o *models.Order) error { return nil }
func (f *fakeDB) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if f.order != nil && f.order.ID == id {
		c := *f.order
		return &c, nil
	}
	return nil, store.ErrNotFound
}
func (f *fakeDB) FindInitiatedOrder(ctx context.Context, listingID uuid.UUID, buyerID string) (*models.Order, error) {
	return nil, store.ErrNotFound
}
func (f *fakeDB) UpdateOrder(ctx context.Context, o *models.Order) error { return nil }
func (f *fakeDB) ListOrdersByParty(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	return nil, nil
}
func (f *fakeDB) ListOrders(ctx context.Context, fl store.OrderFilter) ([]models.Order, error) {
	return nil, nil
}
func (f *fakeDB) CountListings(ctx context.Context) (int64, error)       { return 0, nil }
func (f *fakeDB) CountActiveListings(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeDB) CountOrders(ctx context.Context) (int64, error)         { return 0, nil }
func (f *fakeDB) CountOrdersByState(ctx context.Context) ([]store.StateCount, error) {
	return nil, nil
}

// fakeMsgs is an in-memory MessageStore with monotone tick marks.
type fakeMsgs struct {
	mu        sync.Mutex
	messages  []models.Message
	ticks     map[string]models.Ticks // msg id -> ticks
	sendCount map[string]int
	sendCap   int
}

func newFakeMsgs() *fakeMsgs {
	return &fakeMsgs{
		ticks:     make(map[string]models.Ticks),
		sendCount: make(map[string]int),
		sendCap:   1 << 30,
	}
}

func (f *fakeMsgs) Close() error                   { return nil }
func (f *fakeMsgs) Ping(ctx context.Context) error { return nil }

func (f *fakeMsgs) AddMessage(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", len(f.messages)+1)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeMsgs) OrderMessages(ctx context.Context, orderID string, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.messages {
		if m.OrderID == orderID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMsgs) exists(orderID, msgID string) bool {
	for _, m := range f.messages {
		if m.OrderID == orderID && m.ID == msgID {
			return true
		}
	}
	return false
}

func (f *fakeMsgs) MarkDelivered(ctx context.Context, orderID string, msgIDs []string, userID string) ([]string, error) {
	return f.mark(orderID, msgIDs, userID, false)
}

func (f *fakeMsgs) MarkSeen(ctx context.Context, orderID string, msgIDs []string, userID string) ([]string, error) {
	return f.mark(orderID, msgIDs, userID, true)
}

func (f *fakeMsgs) mark(orderID string, msgIDs []string, userID string, seen bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UnixMilli()
	var marked []string
	for _, id := range msgIDs {
		if !f.exists(orderID, id) {
			continue
		}
		t := f.ticks[id]
		if seen {
			if t.SeenAt == nil {
				t.SeenAt = make(map[string]int64)
			}
			if _, ok := t.SeenAt[userID]; ok {
				continue
			}
			t.SeenAt[userID] = now
			if t.DeliveredAt == nil {
				t.DeliveredAt = make(map[string]int64)
			}
			if _, ok := t.DeliveredAt[userID]; !ok {
				t.DeliveredAt[userID] = now
			}
		} else {
			if t.DeliveredAt == nil {
				t.DeliveredAt = make(map[string]int64)
			}
			if _, ok := t.DeliveredAt[userID]; ok {
				continue
			}
			t.DeliveredAt[userID] = now
		}
		f.ticks[id] = t
		marked = append(marked, id)
	}
	return marked, nil
}

func (f *fakeMsgs) MessageTicks(ctx context.Context, orderID string, msgIDs []string) (map[string]models.Ticks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.Ticks)
	for _, id := range msgIDs {
		if t, ok := f.ticks[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (f *fakeMsgs) CheckRateLimit(ctx context.Context, userID string, limit int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount[userID] < f.sendCap, nil
}

func (f *fakeMsgs) IncrementRateLimit(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCount[userID]++
	return nil
}

// fakePub records published events by room.
type fakePub struct {
	mu     sync.Mutex
	byRoom map[string][]ws.Event
}

func newFakePub() *fakePub {
	return &fakePub{byRoom: make(map[string][]ws.Event)}
}

func (p *fakePub) Publish(room string, ev ws.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byRoom[room] = append(p.byRoom[room], ev)
}

func (p *fakePub) events(room string) []ws.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ws.Event(nil), p.byRoom[room]...)
}

func newTestChat(t *testing.T) (*Service, *models.Order, *fakeMsgs, *fakePub) {
	t.Helper()
	order := &models.Order{
		ID:        uuid.New(),
		ListingID: uuid.New(),
		Seller:    models.Party{ID: seller.UserID, Name: seller.Name},
		Buyer:     models.Party{ID: buyer.UserID, Name: buyer.Name},
		State:     models.StateInitiated,
	}
	msgs := newFakeMsgs()
	pub := newFakePub()
	svc := NewService(&fakeDB{order: order}, msgs, pub, zerolog.Nop())
	return svc, order, msgs, pub
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	svc, order, _, _ := newTestChat(t)

	t.Run("participants may join", func(t *testing.T) {
		for _, id := range []models.Identity{buyer, seller} {
			if err := svc.Authorize(ctx, id, order.ID.String(), ""); err != nil {
				t.Errorf("%s rejected: %v", id.UserID, err)
			}
		}
	})

	t.Run("outsider rejected", func(t *testing.T) {
		err := svc.Authorize(ctx, lurker, order.ID.String(), "")
		if !errors.Is(err, ErrNotMember) {
			t.Errorf("expected ErrNotMember, got %v", err)
		}
	})

	t.Run("listing rooms are open", func(t *testing.T) {
		if err := svc.Authorize(ctx, lurker, "", order.ListingID.String()); err != nil {
			t.Errorf("listing join rejected: %v", err)
		}
	})

	t.Run("unknown order rejected", func(t *testing.T) {
		err := svc.Authorize(ctx, buyer, uuid.NewString(), "")
		if !errors.Is(err, ErrUnknownOrder) {
			t.Errorf("expected ErrUnknownOrder, got %v", err)
		}
	})
}

func TestSendChat(t *testing.T) {
	ctx := context.Background()

	t.Run("appends and fans out", func(t *testing.T) {
		svc, order, msgs, pub := newTestChat(t)

		if err := svc.SendChat(ctx, buyer, "", order.ID.String(), "is the code unused?"); err != nil {
			t.Fatalf("send: %v", err)
		}

		stored, _ := msgs.OrderMessages(ctx, order.ID.String(), 0)
		if len(stored) != 1 {
			t.Fatalf("stored %d messages, want 1", len(stored))
		}
		if stored[0].Kind != models.MessageKindUser {
			t.Errorf("kind = %s", stored[0].Kind)
		}

		roomEvents := pub.events(ws.OrderRoom(order.ID.String()))
		if len(roomEvents) != 1 || roomEvents[0].Type != ws.EventChatNew {
			t.Errorf("room events = %v", roomEvents)
		}

		// seller inbox nudged
		inbox := pub.events(ws.UserRoom(seller.UserID))
		if len(inbox) != 1 || inbox[0].Type != ws.EventThreadUpdated {
			t.Errorf("inbox events = %v", inbox)
		}
	})

	t.Run("empty body rejected", func(t *testing.T) {
		svc, order, _, _ := newTestChat(t)
		err := svc.SendChat(ctx, buyer, "", order.ID.String(), "   ")
		if !errors.Is(err, ErrEmptyBody) {
			t.Errorf("expected ErrEmptyBody, got %v", err)
		}
	})

	t.Run("oversize body rejected", func(t *testing.T) {
		svc, order, _, _ := newTestChat(t)
		err := svc.SendChat(ctx, buyer, "", order.ID.String(), strings.Repeat("a", maxBodyLen+1))
		if !errors.Is(err, ErrBodyTooLong) {
			t.Errorf("expected ErrBodyTooLong, got %v", err)
		}
	})

	t.Run("outsider rejected", func(t *testing.T) {
		svc, order, msgs, _ := newTestChat(t)
		err := svc.SendChat(ctx, lurker, "", order.ID.String(), "hello")
		if !errors.Is(err, ErrNotMember) {
			t.Errorf("expected ErrNotMember, got %v", err)
		}
		stored, _ := msgs.OrderMessages(ctx, order.ID.String(), 0)
		if len(stored) != 0 {
			t.Errorf("rejected send stored a message")
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		svc, order, msgs, _ := newTestChat(t)
		msgs.sendCap = 2

		for i := 0; i < 2; i++ {
			if err := svc.SendChat(ctx, buyer, "", order.ID.String(), "spam"); err != nil {
				t.Fatalf("send %d: %v", i, err)
			}
		}
		err := svc.SendChat(ctx, buyer, "", order.ID.String(), "spam")
		if !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})
}

func TestAcks(t *testing.T) {
	ctx := context.Background()

	t.Run("delivered ack fans out once", func(t *testing.T) {
		svc, order, msgs, pub := newTestChat(t)
		if err := svc.SendChat(ctx, buyer, "", order.ID.String(), "ping"); err != nil {
			t.Fatalf("send: %v", err)
		}
		stored, _ := msgs.OrderMessages(ctx, order.ID.String(), 0)
		id := stored[0].ID

		if err := svc.AckDelivered(ctx, seller, order.ID.String(), []string{id}); err != nil {
			t.Fatalf("ack: %v", err)
		}

		room := ws.OrderRoom(order.ID.String())
		count := 0
		for _, ev := range pub.events(room) {
			if ev.Type == ws.EventChatDelivered {
				count++
			}
		}
		if count != 1 {
			t.Errorf("chat:delivered published %d times, want 1", count)
		}

		// Repeat ack changes nothing and publishes nothing new.
		if err := svc.AckDelivered(ctx, seller, order.ID.String(), []string{id}); err != nil {
			t.Fatalf("repeat ack: %v", err)
		}
		count = 0
		for _, ev := range pub.events(room) {
			if ev.Type == ws.EventChatDelivered {
				count++
			}
		}
		if count != 1 {
			t.Errorf("repeat ack re-published, got %d events", count)
		}
	})

	t.Run("seen implies delivered", func(t *testing.T) {
		svc, order, msgs, _ := newTestChat(t)
		if err := svc.SendChat(ctx, buyer, "", order.ID.String(), "ping"); err != nil {
			t.Fatalf("send: %v", err)
		}
		stored, _ := msgs.OrderMessages(ctx, order.ID.String(), 0)
		id := stored[0].ID

		if err := svc.AckSeen(ctx, seller, order.ID.String(), []string{id}); err != nil {
			t.Fatalf("seen ack: %v", err)
		}

		ticks, _ := msgs.MessageTicks(ctx, order.ID.String(), []string{id})
		if !ticks[id].SeenBy(seller.UserID) {
			t.Error("seen mark missing")
		}
		if !ticks[id].DeliveredBy(seller.UserID) {
			t.Error("seen did not imply delivered")
		}
	})

	t.Run("unknown ids ignored", func(t *testing.T) {
		svc, order, _, pub := newTestChat(t)
		if err := svc.AckDelivered(ctx, seller, order.ID.String(), []string{"no-such-id"}); err != nil {
			t.Fatalf("ack: %v", err)
		}
		if events := pub.events(ws.OrderRoom(order.ID.String())); len(events) != 0 {
			t.Errorf("published %d events for unknown ids", len(events))
		}
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	svc, order, msgs, _ := newTestChat(t)

	for i := 0; i < 3; i++ {
		if err := svc.SendChat(ctx, buyer, "", order.ID.String(), fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	stored, _ := msgs.OrderMessages(ctx, order.ID.String(), 0)
	if err := svc.AckSeen(ctx, seller, order.ID.String(), []string{stored[0].ID}); err != nil {
		t.Fatalf("seen: %v", err)
	}

	t.Run("participant reads transcript with ticks", func(t *testing.T) {
		got, ticks, err := svc.History(ctx, seller, order.ID.String(), 0)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d messages, want 3", len(got))
		}
		if !ticks[got[0].ID].SeenBy(seller.UserID) {
			t.Error("tick state missing from history")
		}
	})

	t.Run("outsider rejected", func(t *testing.T) {
		_, _, err := svc.History(ctx, lurker, order.ID.String(), 0)
		if !errors.Is(err, ErrNotMember) {
			t.Errorf("expected ErrNotMember, got %v", err)
		}
	})
}
