package teamchat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// DefaultPollInterval is how often an open conversation is refreshed.
const DefaultPollInterval = 5 * time.Second

// ErrNotOpen is returned by Send when no conversation is open.
var ErrNotOpen = errors.New("teamchat: no open conversation")

// ConversationSource is the part of the API the poller needs. *Client
// implements it.
type ConversationSource interface {
	ListMessages(ctx context.Context, conv Conversation, limit int, before string) (*MessagesResponse, error)
	SendMessage(ctx context.Context, conv Conversation, text, file string) (*models.DecodedMessage, error)
	MarkRead(ctx context.Context, conv Conversation, ids []string) (int64, error)
}

// Handlers receive poller updates. Any of them may be nil. They are called
// from the poller's goroutines and must not call back into Open or Close.
type Handlers struct {
	OnMessages func(conv Conversation, messages []models.DecodedMessage)
	OnLoading  func(loading bool)
	OnError    func(err error)
}

// Poller keeps the local view of one open conversation fresh by fetching it
// on a fixed interval. At most one fetch is in flight at a time; ticks that
// fire while a fetch is still running are dropped.
type Poller struct {
	src      ConversationSource
	actor    uuid.UUID
	handlers Handlers
	interval time.Duration

	inFlight atomic.Bool
	skipped  atomic.Int64

	mu       sync.Mutex
	conv     Conversation
	open     bool
	messages []models.DecodedMessage
	pending  map[string]struct{} // ids sent locally and not yet seen in a fetch
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPoller creates a poller for actor. A non-positive interval selects
// DefaultPollInterval.
func NewPoller(src ConversationSource, actor uuid.UUID, handlers Handlers, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		src:      src,
		actor:    actor,
		handlers: handlers,
		interval: interval,
	}
}

// Open switches the poller to conv. Any previous loop is stopped first. Open
// performs one visible fetch before returning and then keeps polling silently
// until Close, the next Open, or ctx is cancelled. The error of the first
// fetch is returned; polling continues regardless.
func (p *Poller) Open(ctx context.Context, conv Conversation) error {
	p.stop()

	loopCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.conv = conv
	p.open = true
	p.messages = nil
	p.pending = make(map[string]struct{})
	p.cancel = cancel
	p.mu.Unlock()

	err := p.fetch(loopCtx, conv, false)

	p.wg.Add(1)
	go p.loop(loopCtx, conv)
	return err
}

// Close stops polling. It waits for an in-flight fetch to finish.
func (p *Poller) Close() {
	p.stop()
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
}

// Messages returns a snapshot of the open conversation, oldest first.
func (p *Poller) Messages() []models.DecodedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.DecodedMessage(nil), p.messages...)
}

// Skipped reports how many ticks were dropped because a fetch was running.
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}

// Send posts a message to the open conversation and shows the echo right
// away. The next fetch replaces it with the stored copy.
func (p *Poller) Send(ctx context.Context, text, file string) (*models.DecodedMessage, error) {
	p.mu.Lock()
	conv, open := p.conv, p.open
	p.mu.Unlock()
	if !open {
		return nil, ErrNotOpen
	}

	msg, err := p.src.SendMessage(ctx, conv, text, file)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.conv != conv || !p.open {
		p.mu.Unlock()
		return msg, nil
	}
	if !containsID(p.messages, msg.ID) {
		p.messages = append(p.messages, *msg)
		p.pending[msg.ID] = struct{}{}
	}
	snapshot := append([]models.DecodedMessage(nil), p.messages...)
	p.mu.Unlock()

	p.emitMessages(conv, snapshot)
	return msg, nil
}

func (p *Poller) stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, conv Conversation) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				p.skipped.Add(1)
				continue
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.inFlight.Store(false)
				_ = p.run(ctx, conv, true)
			}()
		}
	}
}

// fetch runs one refresh unless another is already in flight.
func (p *Poller) fetch(ctx context.Context, conv Conversation, silent bool) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return nil
	}
	defer p.inFlight.Store(false)
	return p.run(ctx, conv, silent)
}

func (p *Poller) run(ctx context.Context, conv Conversation, silent bool) error {
	if !silent && p.handlers.OnLoading != nil {
		p.handlers.OnLoading(true)
		defer p.handlers.OnLoading(false)
	}

	page, err := p.src.ListMessages(ctx, conv, 0, "")
	if err != nil {
		if ctx.Err() == nil {
			p.emitError(err)
		}
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	unread := p.merge(conv, page.Messages)
	if unread == nil {
		return nil
	}

	if _, err := p.src.MarkRead(ctx, conv, unread); err != nil {
		if ctx.Err() == nil {
			p.emitError(err)
		}
		return err
	}
	return nil
}

// merge installs fetched as the local state, keeps local echoes the server
// has not returned yet, and returns the ids the actor still has to mark read.
func (p *Poller) merge(conv Conversation, fetched []models.DecodedMessage) []string {
	var unread []string
	merged := make([]models.DecodedMessage, 0, len(fetched)+1)
	for _, m := range fetched {
		if m.Sender.ID != p.actor && !readByContains(m.ReadBy, p.actor) {
			unread = append(unread, m.ID)
			m.ReadBy = append(append([]uuid.UUID(nil), m.ReadBy...), p.actor)
		}
		merged = append(merged, m)
	}

	p.mu.Lock()
	if p.conv != conv || !p.open {
		p.mu.Unlock()
		return nil
	}
	for id := range p.pending {
		if containsID(fetched, id) {
			delete(p.pending, id)
		}
	}
	for _, m := range p.messages {
		if _, ok := p.pending[m.ID]; ok {
			merged = append(merged, m)
		}
	}
	p.messages = merged
	snapshot := append([]models.DecodedMessage(nil), merged...)
	p.mu.Unlock()

	p.emitMessages(conv, snapshot)
	return unread
}

func (p *Poller) emitMessages(conv Conversation, messages []models.DecodedMessage) {
	if p.handlers.OnMessages != nil {
		p.handlers.OnMessages(conv, messages)
	}
}

func (p *Poller) emitError(err error) {
	if p.handlers.OnError != nil {
		p.handlers.OnError(err)
	}
}

func containsID(messages []models.DecodedMessage, id string) bool {
	for _, m := range messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

func readByContains(readBy []uuid.UUID, id uuid.UUID) bool {
	for _, r := range readBy {
		if r == id {
			return true
		}
	}
	return false
}
