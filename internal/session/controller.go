// Package session owns the open conversation of a logged-in user. The
// Controller routes inbound stream events onto the message log and typing
// guard, runs the local operations (select, send, recall, delete), and keeps
// the friend directory in step with the server.
//
// Every entry point (an inbound frame, a timer, a user operation, the
// completion of a network call) runs to completion under one mutex, so log
// and typing state change atomically with respect to each other. Network
// calls run with the mutex released; their results are applied only if the
// conversation they were issued for is still open.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper/chatsync/internal/api"
	"github.com/whisper/chatsync/internal/chat"
	"github.com/whisper/chatsync/internal/metrics"
	"github.com/whisper/chatsync/internal/protocol"
	"github.com/whisper/chatsync/internal/ratelimit"
	"github.com/whisper/chatsync/internal/typing"
)

var (
	// ErrNoConversation is returned by operations that need an open
	// conversation.
	ErrNoConversation = errors.New("session: no conversation is open")

	// ErrStale is returned when the conversation changed while a request
	// was in flight; the response was discarded.
	ErrStale = errors.New("session: conversation changed, response discarded")

	// ErrNotConnected is returned when no event stream is attached.
	ErrNotConnected = errors.New("session: no event stream attached")

	// ErrRateLimited is returned when a send exceeds the client-side rate.
	ErrRateLimited = errors.New("session: sending too fast")

	// ErrNotOwner is returned when recalling someone else's message.
	ErrNotOwner = errors.New("session: only the sender can recall a message")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// Stream is the outbound half of the event stream.
type Stream interface {
	Emit(event string, payload interface{}) error
}

// API is the request/response collaborator.
type API interface {
	Friends(ctx context.Context, userID string) ([]api.Friend, error)
	PendingRequests(ctx context.Context, userID string) ([]api.FriendRequest, error)
	History(ctx context.Context, userID, friendID string, limit int) ([]protocol.MessagePayload, error)
	SearchUsers(ctx context.Context, userID, query string) ([]api.User, error)
	SendFriendRequest(ctx context.Context, fromID, toID string) error
	RespondFriendRequest(ctx context.Context, requestID string, accept bool) error
	Upload(ctx context.Context, userID, kind, name string, data []byte) (string, error)
}

// Config holds controller settings.
type Config struct {
	HistoryLimit   int           // messages fetched on conversation entry
	MatchTolerance time.Duration // optimistic matcher window
	Typing         typing.Config
	RequestTimeout time.Duration // for refreshes triggered by stream events
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:   50,
		MatchTolerance: chat.DefaultMatchTolerance,
		Typing:         typing.DefaultConfig(),
		RequestTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators of a Controller.
type Deps struct {
	SelfID    string
	API       API
	Limiter   *ratelimit.Limiter // nil disables client-side throttling
	Scheduler typing.Scheduler   // nil means wall-clock timers
	Listener  Listener           // nil means NopListener
	Now       func() time.Time   // nil means time.Now
	Log       zerolog.Logger
}

// Controller is the conversation session of one logged-in user.
type Controller struct {
	self     string
	config   Config
	api      API
	limiter  *ratelimit.Limiter
	listener Listener
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	outbox  []func()
	pending Change

	stream   Stream
	closed   bool
	peer     string
	gen      uint64 // bumped on every conversation switch
	loading  bool
	msgs     *chat.Log
	matcher  chat.Matcher
	guard    *typing.Guard
	dir      Directory
	router   *Router
	sentRefs map[string]sentRef // by clientRef, sends awaiting confirmation

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New creates a Controller with no stream attached and no conversation open.
func New(config Config, deps Deps) *Controller {
	def := DefaultConfig()
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = def.HistoryLimit
	}
	if config.MatchTolerance <= 0 {
		config.MatchTolerance = def.MatchTolerance
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}

	c := &Controller{
		self:     deps.SelfID,
		config:   config,
		api:      deps.API,
		limiter:  deps.Limiter,
		listener: deps.Listener,
		now:      deps.Now,
		log:      deps.Log.With().Str("component", "session").Str("user", deps.SelfID).Logger(),
		msgs:     chat.NewLog(),
		matcher:  chat.Matcher{SelfID: deps.SelfID, Tolerance: config.MatchTolerance},
		sentRefs: make(map[string]sentRef),
	}
	if c.listener == nil {
		c.listener = NopListener{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())

	sched := deps.Scheduler
	if sched == nil {
		sched = typing.RealScheduler{}
	}
	c.guard = typing.NewGuard(c.lockedScheduler(sched), typingEmitter{c}, config.Typing)
	c.guard.OnPeerTypingChange(func(string, bool) { c.changed(ChangeTyping) })
	c.guard.OnExpire(func(side string) {
		metrics.TypingExpiries.WithLabelValues(side).Inc()
	})

	c.router = NewRouter(c.log)
	c.registerHandlers()
	return c
}

// lockedScheduler runs timer callbacks under the controller lock.
func (c *Controller) lockedScheduler(base typing.Scheduler) typing.Scheduler {
	return typing.SchedulerFunc(func(d time.Duration, f func()) typing.Timer {
		return base.AfterFunc(d, func() {
			c.lock()
			defer c.unlock()
			if c.closed {
				return
			}
			f()
		})
	})
}

func (c *Controller) lock() { c.mu.Lock() }

// unlock releases the lock, then delivers queued notices and changes.
func (c *Controller) unlock() {
	out := c.outbox
	ch := c.pending
	c.outbox = nil
	c.pending = 0
	c.mu.Unlock()

	for _, fn := range out {
		fn()
	}
	if ch != 0 {
		c.listener.Changed(ch)
	}
}

// Attach installs the event stream. The stream announces itself with a
// connect frame through HandleFrame, which starts the join and refresh flow.
func (c *Controller) Attach(s Stream) {
	c.lock()
	defer c.unlock()
	c.stream = s
}

// HandleFrame routes one inbound frame. Transports call it from their read
// goroutine.
func (c *Controller) HandleFrame(data []byte) {
	c.lock()
	defer c.unlock()
	if c.closed {
		return
	}
	c.router.Dispatch(data)
}

// Close tears the session down, as on logout: the open conversation's peer
// gets a final stopTyping, every timer is cancelled, cached state is dropped
// and the stream is detached. Close waits for background refreshes and is
// safe to call multiple times.
func (c *Controller) Close() {
	c.lock()
	if c.closed {
		c.unlock()
		return
	}
	c.guard.Activate("")
	c.closed = true
	c.gen++
	c.peer = ""
	c.loading = false
	c.msgs.Reset()
	c.dir.Clear()
	c.sentRefs = make(map[string]sentRef)
	c.stream = nil
	c.changed(ChangeConversation | ChangeLog | ChangeLoading | ChangeTyping | ChangeFriends | ChangeRequests)
	c.log.Info().Msg("Session closed")
	c.unlock()

	c.bgCancel()
	c.bg.Wait()
}

// emit sends an outbound event. Caller holds c.mu.
func (c *Controller) emit(event string, payload interface{}) error {
	if c.stream == nil {
		metrics.EventsSent.WithLabelValues(event, "error").Inc()
		return ErrNotConnected
	}
	if err := c.stream.Emit(event, payload); err != nil {
		metrics.EventsSent.WithLabelValues(event, "error").Inc()
		return err
	}
	metrics.EventsSent.WithLabelValues(event, "ok").Inc()
	return nil
}

// background runs fn on its own goroutine with the refresh timeout. Caller
// holds c.mu.
func (c *Controller) background(fn func(ctx context.Context)) {
	if c.closed {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(c.bgCtx, c.config.RequestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// markRead sends a read receipt for the open conversation. Caller holds c.mu.
func (c *Controller) markRead() {
	if c.peer == "" {
		return
	}
	if err := c.emit(protocol.TypeMarkAsRead, protocol.MarkAsReadMsg{UserID: c.self, FriendID: c.peer}); err != nil {
		c.log.Debug().Err(err).Str("peer", c.peer).Msg("Read receipt not sent")
	}
}

// typingEmitter sends the guard's signals on the stream. It is only called
// with c.mu held.
type typingEmitter struct{ c *Controller }

func (e typingEmitter) Typing(peer string) {
	if err := e.c.emit(protocol.TypeTyping, protocol.TypingMsg{FromID: e.c.self, ToID: peer}); err != nil {
		e.c.log.Debug().Err(err).Msg("Typing signal not sent")
	}
}

func (e typingEmitter) StopTyping(peer string) {
	if err := e.c.emit(protocol.TypeStopTyping, protocol.TypingMsg{FromID: e.c.self, ToID: peer}); err != nil {
		e.c.log.Debug().Err(err).Msg("Stop typing signal not sent")
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SelfID returns the logged-in user.
func (c *Controller) SelfID() string { return c.self }

// Peer returns the open conversation's peer, or "".
func (c *Controller) Peer() string {
	c.lock()
	defer c.unlock()
	return c.peer
}

// Loading reports whether history for the open conversation is loading.
func (c *Controller) Loading() bool {
	c.lock()
	defer c.unlock()
	return c.loading
}

// Messages returns the open conversation as the local user may see it.
func (c *Controller) Messages() []chat.Message {
	c.lock()
	defer c.unlock()
	return c.msgs.Visible(c.self)
}

// Message returns the raw log entry with the given id.
func (c *Controller) Message(id string) (chat.Message, bool) {
	c.lock()
	defer c.unlock()
	return c.msgs.Get(id)
}

// PeerTyping reports whether the typing indicator is shown.
func (c *Controller) PeerTyping() bool {
	c.lock()
	defer c.unlock()
	return c.guard.PeerIsTyping()
}

// TypingState returns the typing state machine's current state.
func (c *Controller) TypingState() typing.State {
	c.lock()
	defer c.unlock()
	return c.guard.State()
}

// Friends returns the cached friend list.
func (c *Controller) Friends() []api.Friend {
	c.lock()
	defer c.unlock()
	return c.dir.Friends()
}

// Requests returns the cached pending friend requests.
func (c *Controller) Requests() []api.FriendRequest {
	c.lock()
	defer c.unlock()
	return c.dir.Requests()
}

// UnreadTotal returns the number of unread messages across conversations.
func (c *Controller) UnreadTotal() int {
	c.lock()
	defer c.unlock()
	return c.dir.UnreadTotal()
}
