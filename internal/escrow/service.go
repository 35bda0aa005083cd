package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/raghavao7/lossflip/internal/metrics"
	"github.com/raghavao7/lossflip/internal/models"
	"github.com/raghavao7/lossflip/internal/store"
	"github.com/raghavao7/lossflip/internal/ws"
)

// Publisher fans events out to a room's currently joined connections.
// Publishing is fire-and-forget; nothing is persisted for absent members.
type Publisher interface {
	Publish(room string, ev ws.Event)
}

// disputeSnippetLen caps the reason excerpt quoted in the system message.
const disputeSnippetLen = 80

// Service owns the order lifecycle. Every mutation of a single order is
// serialized through a per-key lock so a concurrent quantity edit and accept
// cannot interleave between guard check and write.
//
// Stock policy: stock is deducted at accept time with a guarded
// compare-and-decrement, so concurrent accepts against low stock cannot
// oversell. Release never touches stock.
type Service struct {
	db   store.DataStore
	msgs store.MessageStore
	pub  Publisher
	log  zerolog.Logger

	locks keyedLocks
}

// NewService creates the escrow service.
func NewService(db store.DataStore, msgs store.MessageStore, pub Publisher, log zerolog.Logger) *Service {
	return &Service{
		db:   db,
		msgs: msgs,
		pub:  pub,
		log:  log.With().Str("component", "escrow").Logger(),
	}
}

// keyedLocks hands out one mutex per key. Entries are kept for the process
// lifetime; the set is bounded by the orders touched since start.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	return l
}

// Grab starts (or reuses) the buyer's thread against a listing. Idempotent
// per (listing, buyer): at most one initiated order exists at a time, and a
// repeat grab returns it unchanged. The second return value reports whether
// a new thread was created.
func (s *Service) Grab(ctx context.Context, actor models.Identity, listingID uuid.UUID) (*models.Order, bool, error) {
	listing, err := s.db.GetListing(ctx, listingID)
	if err != nil {
		return nil, false, s.wrap(err, "listing")
	}
	if listing.Seller.ID == actor.UserID {
		return nil, false, forbiddenf("you cannot grab your own listing")
	}

	// Serialize grabs per (listing, buyer) so concurrent grabs cannot
	// create duplicate initiated threads.
	lock := s.locks.get("grab:" + listingID.String() + ":" + actor.UserID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.db.FindInitiatedOrder(ctx, listingID, actor.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:        uuid.New(),
		ListingID: listing.ID,
		Seller:    listing.Seller,
		Buyer:     models.Party{ID: actor.UserID, Name: actor.Name},
		Amount:    listing.DealPrice,
		Quantity:  1,
		Fees:      FeeOnTotal(listing.DealPrice, 1),
		State:     models.StateInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if listing.DigitalSecret != "" {
		order.Delivery = models.Delivery{Payload: listing.DigitalSecret, DeliveredAt: &now}
	}

	if err := s.db.CreateOrder(ctx, order); err != nil {
		return nil, false, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues("grab").Inc()
	s.pub.Publish(ws.UserRoom(order.Seller.ID), ws.Event{
		Type: ws.EventThreadNew,
		Data: ws.ThreadNewPayload{
			OrderID:   order.ID.String(),
			ListingID: listing.ID.String(),
			Buyer:     order.Buyer,
		},
	})
	return order, true, nil
}

// ChangeQuantity updates the quantity of an initiated order and recomputes
// the fee pair. Buyer only.
func (s *Service) ChangeQuantity(ctx context.Context, actor models.Identity, orderID uuid.UUID, quantity int) (*models.Order, error) {
	if quantity < 1 {
		return nil, validationf("quantity must be >= 1")
	}

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Buyer.ID != actor.UserID {
		return nil, forbiddenf("only the buyer can change quantity")
	}
	if order.State != models.StateInitiated {
		return nil, conflictf("cannot change quantity after payment or dispute")
	}

	order.Quantity = quantity
	order.Fees = FeeOnTotal(order.Amount, order.Quantity)
	order.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	s.publishOrderUpdated(order)
	s.notifyThreads(order)
	return order, nil
}

// ProposeAmount lets the seller renegotiate the per-unit amount on an
// escrow-enabled listing while the order is still initiated. The fee pair is
// recomputed and a system message records the proposal.
func (s *Service) ProposeAmount(ctx context.Context, actor models.Identity, listingID, orderID uuid.UUID, amount decimal.Decimal) (*models.Order, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, validationf("amount must be > 0")
	}

	listing, err := s.db.GetListing(ctx, listingID)
	if err != nil {
		return nil, s.wrap(err, "listing")
	}
	if !listing.EscrowRequired {
		return nil, conflictf("escrow is not enabled for this listing")
	}
	if listing.Seller.ID != actor.UserID {
		return nil, forbiddenf("only the seller can propose an amount")
	}

	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ListingID != listing.ID {
		return nil, validationf("order does not belong to this listing")
	}
	if order.State != models.StateInitiated {
		return nil, conflictf("amount is locked once the order is %s", order.State)
	}

	order.Amount = amount
	order.Fees = FeeOnTotal(order.Amount, order.Quantity)
	order.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues("propose").Inc()
	s.appendSystem(ctx, order, fmt.Sprintf("Seller proposed ₹%s per unit", order.Amount))
	s.publishOrderUpdated(order)
	s.notifyThreads(order)
	return order, nil
}

// Accept moves an initiated order to paid_held: the buyer commits the funds
// to escrow. Stock is deducted here with a guarded compare-and-decrement so
// concurrent accepts cannot oversell.
func (s *Service) Accept(ctx context.Context, actor models.Identity, orderID uuid.UUID) (*models.Order, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Buyer.ID != actor.UserID {
		return nil, forbiddenf("only the buyer can accept and pay")
	}
	if err := guardTransition(order, models.StatePaidHeld); err != nil {
		return nil, err
	}

	stock, err := s.db.DecrementStock(ctx, order.ListingID, order.Quantity)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return nil, conflictf("insufficient stock for quantity %d", order.Quantity)
		}
		return nil, err
	}

	order.State = models.StatePaidHeld
	order.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateOrder(ctx, order); err != nil {
		// Return the units taken by the failed acceptance.
		if _, rerr := s.db.IncrementStock(ctx, order.ListingID, order.Quantity); rerr != nil {
			s.log.Error().Err(rerr).Str("order_id", order.ID.String()).Msg("stock compensation failed")
		}
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues("accept").Inc()
	s.appendSystem(ctx, order, fmt.Sprintf("Buyer paid ₹%s × %d = ₹%s (held in escrow)",
		order.Amount, order.Quantity, order.Total()))
	s.publishOrderUpdated(order)
	s.notifyThreads(order)
	s.pub.Publish(ws.ListingRoom(order.ListingID.String()), ws.Event{
		Type: ws.EventDealUpdated,
		Data: ws.DealUpdatedPayload{ListingID: order.ListingID.String(), Stock: stock},
	})
	return order, nil
}

// Release moves a paid_held order to released: the buyer hands the held
// funds to the seller. Terminal.
func (s *Service) Release(ctx context.Context, actor models.Identity, orderID uuid.UUID) (*models.Order, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Buyer.ID != actor.UserID {
		return nil, forbiddenf("only the buyer can release funds")
	}
	if err := guardTransition(order, models.StateReleased); err != nil {
		return nil, err
	}

	order.State = models.StateReleased
	order.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues("release").Inc()
	s.appendSystem(ctx, order, fmt.Sprintf("Buyer released ₹%s to seller", order.Total()))
	s.publishOrderUpdated(order)
	s.notifyThreads(order)
	if listing, lerr := s.db.GetListing(ctx, order.ListingID); lerr == nil {
		s.pub.Publish(ws.ListingRoom(order.ListingID.String()), ws.Event{
			Type: ws.EventDealUpdated,
			Data: ws.DealUpdatedPayload{ListingID: order.ListingID.String(), Stock: listing.Stock},
		})
	}
	return order, nil
}

// ReportFraud moves a paid_held order to in_dispute, recording the buyer's
// reason and proof references. Terminal until dispute review.
func (s *Service) ReportFraud(ctx context.Context, actor models.Identity, orderID uuid.UUID, reason string, proofs []string) (*models.Order, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Buyer.ID != actor.UserID {
		return nil, forbiddenf("only the buyer can report fraud")
	}
	if err := guardTransition(order, models.StateInDispute); err != nil {
		return nil, err
	}

	order.State = models.StateInDispute
	order.Dispute = models.Dispute{Reason: reason, Proofs: proofs}
	order.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues("report").Inc()
	s.appendSystem(ctx, order, disputeMessage(reason))
	s.publishOrderUpdated(order)
	s.notifyThreads(order)
	return order, nil
}

// Restock adds stock to a listing. Seller only, independent of any order
// state.
func (s *Service) Restock(ctx context.Context, actor models.Identity, listingID uuid.UUID, amount int) (*models.Listing, error) {
	if amount <= 0 {
		return nil, validationf("amount must be > 0")
	}

	listing, err := s.db.GetListing(ctx, listingID)
	if err != nil {
		return nil, s.wrap(err, "listing")
	}
	if listing.Seller.ID != actor.UserID {
		return nil, forbiddenf("only the seller can restock this listing")
	}

	stock, err := s.db.IncrementStock(ctx, listingID, amount)
	if err != nil {
		return nil, err
	}
	listing.Stock = stock

	s.pub.Publish(ws.ListingRoom(listingID.String()), ws.Event{
		Type: ws.EventDealUpdated,
		Data: ws.DealUpdatedPayload{ListingID: listingID.String(), Stock: stock},
	})
	return listing, nil
}

func (s *Service) lockOrder(orderID uuid.UUID) func() {
	l := s.locks.get("order:" + orderID.String())
	l.Lock()
	return l.Unlock
}

func (s *Service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.wrap(err, "order")
	}
	return order, nil
}

func (s *Service) wrap(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(what)
	}
	return err
}

// appendSystem records a machine-generated chat entry for a transition and
// fans it out to the order room. A failed append is logged and never
// published, leaving the log and the delivery map consistent.
func (s *Service) appendSystem(ctx context.Context, order *models.Order, body string) {
	msg := &models.Message{
		OrderID:   order.ID.String(),
		ListingID: order.ListingID.String(),
		From:      models.SystemParty,
		Body:      body,
		Kind:      models.MessageKindSystem,
	}
	if err := s.msgs.AddMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("system message append failed")
		return
	}
	metrics.MessagesTotal.WithLabelValues(models.MessageKindSystem).Inc()
	s.pub.Publish(ws.OrderRoom(order.ID.String()), ws.Event{Type: ws.EventChatNew, Data: msg})
}

func (s *Service) publishOrderUpdated(order *models.Order) {
	s.pub.Publish(ws.OrderRoom(order.ID.String()), ws.Event{
		Type: ws.EventOrderUpdated,
		Data: ws.OrderUpdatedPayload{
			OrderID:  order.ID.String(),
			Amount:   order.Amount,
			Quantity: order.Quantity,
			Fees:     order.Fees,
			State:    order.State,
		},
	})
}

// notifyThreads nudges both parties' inbox rooms so thread lists refresh.
func (s *Service) notifyThreads(order *models.Order) {
	payload := ws.ThreadUpdatedPayload{OrderID: order.ID.String()}
	s.pub.Publish(ws.UserRoom(order.Buyer.ID), ws.Event{Type: ws.EventThreadUpdated, Data: payload})
	s.pub.Publish(ws.UserRoom(order.Seller.ID), ws.Event{Type: ws.EventThreadUpdated, Data: payload})
}

func disputeMessage(reason string) string {
	trimmed := []rune(strings.TrimSpace(reason))
	if len(trimmed) == 0 {
		return "Buyer reported fraud"
	}
	if len(trimmed) > disputeSnippetLen {
		trimmed = trimmed[:disputeSnippetLen]
	}
	return fmt.Sprintf("Buyer reported fraud: %q", string(trimmed))
}
