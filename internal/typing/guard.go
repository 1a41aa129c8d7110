// Package typing implements the conversation-scoped typing indicator
// protocol. A Guard drives two independent timers: the sender idle timer
// that ends the local user's typing burst, and the receiver stale timer that
// clears the peer's indicator when its stopTyping never arrives.
//
// A Guard is not goroutine-safe. Its owner must call every method, and run
// every scheduled task, from a single goroutine.
package typing

import (
	"strings"
	"time"
)

// State is the set of typing activities currently in progress.
type State uint8

const (
	Idle          State = 0
	LocallyTyping State = 1 << iota
	PeerTyping
)

// Has reports whether s includes every bit of flag.
func (s State) Has(flag State) bool {
	return s&flag == flag && flag != 0
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LocallyTyping:
		return "locally-typing"
	case PeerTyping:
		return "peer-typing"
	default:
		return "locally-typing+peer-typing"
	}
}

// Emitter sends typing signals to a peer.
type Emitter interface {
	Typing(peer string)
	StopTyping(peer string)
}

// Config holds the two guard timeouts.
type Config struct {
	IdleTimeout  time.Duration // sender: stopTyping after this much silence
	StaleTimeout time.Duration // receiver: clear the indicator after this long
}

// DefaultConfig returns the standard timeouts.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:  2 * time.Second,
		StaleTimeout: 5 * time.Second,
	}
}

// Guard is the typing state machine of the active conversation.
type Guard struct {
	sched  Scheduler
	emit   Emitter
	config Config

	peer  string
	state State

	sender   task
	receiver task

	onChange func(peer string, typing bool)
	onExpire func(side string)
}

// task is a scheduled transition. seq invalidates callbacks of tasks that
// were cancelled after the scheduler had already committed to running them.
type task struct {
	timer Timer
	seq   uint64
}

func (t *task) cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
}

// NewGuard creates a Guard with no active conversation.
func NewGuard(sched Scheduler, emit Emitter, config Config) *Guard {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if config.StaleTimeout <= 0 {
		config.StaleTimeout = DefaultConfig().StaleTimeout
	}
	return &Guard{sched: sched, emit: emit, config: config}
}

// OnPeerTypingChange registers a callback invoked whenever the peer
// indicator flips.
func (g *Guard) OnPeerTypingChange(fn func(peer string, typing bool)) {
	g.onChange = fn
}

// OnExpire registers a callback invoked when a timer fires; side is
// "sender" or "receiver".
func (g *Guard) OnExpire(fn func(side string)) {
	g.onExpire = fn
}

// Peer returns the active peer, or "" when no conversation is open.
func (g *Guard) Peer() string {
	return g.peer
}

// State returns the current typing activity.
func (g *Guard) State() State {
	return g.state
}

// PeerIsTyping reports whether the peer indicator is shown.
func (g *Guard) PeerIsTyping() bool {
	return g.state.Has(PeerTyping)
}

// Activate switches the guard to peer. Both timers are cancelled, the peer
// indicator is cleared and, if another conversation was open, its peer
// receives a final stopTyping. Activate("") tears the guard down.
func (g *Guard) Activate(peer string) {
	prev := g.peer
	g.sender.cancel()
	g.receiver.cancel()
	g.state &^= LocallyTyping
	g.clearPeer(prev)
	g.peer = peer
	if prev != "" {
		g.emit.StopTyping(prev)
	}
}

// Input reacts to the local input field changing. Non-empty input emits
// typing and re-arms the idle timer; empty input ends the burst at once.
func (g *Guard) Input(text string) {
	if g.peer == "" {
		return
	}
	if strings.TrimSpace(text) == "" {
		g.Stop()
		return
	}
	g.emit.Typing(g.peer)
	g.state |= LocallyTyping
	g.arm(&g.sender, g.config.IdleTimeout, g.senderExpired)
}

// Stop ends the local typing burst immediately, as on send.
func (g *Guard) Stop() {
	if g.peer == "" {
		return
	}
	g.sender.cancel()
	g.state &^= LocallyTyping
	g.emit.StopTyping(g.peer)
}

// PeerTypingReceived handles a typing signal from another user. Signals
// from anyone but the active peer are ignored.
func (g *Guard) PeerTypingReceived(from string) {
	if g.peer == "" || from != g.peer {
		return
	}
	wasTyping := g.state.Has(PeerTyping)
	g.state |= PeerTyping
	g.arm(&g.receiver, g.config.StaleTimeout, g.receiverExpired)
	if !wasTyping && g.onChange != nil {
		g.onChange(g.peer, true)
	}
}

// PeerStopped handles an explicit stopTyping from another user.
func (g *Guard) PeerStopped(from string) {
	if g.peer == "" || from != g.peer {
		return
	}
	g.receiver.cancel()
	g.clearPeer(g.peer)
}

// PeerMessage handles a message delivered by another user. The message
// supersedes any typing indicator.
func (g *Guard) PeerMessage(from string) {
	g.PeerStopped(from)
}

func (g *Guard) arm(t *task, d time.Duration, fire func()) {
	t.cancel()
	seq := t.seq
	t.timer = g.sched.AfterFunc(d, func() {
		if t.seq != seq {
			return
		}
		t.timer = nil
		fire()
	})
}

func (g *Guard) senderExpired() {
	g.state &^= LocallyTyping
	if g.onExpire != nil {
		g.onExpire("sender")
	}
	g.emit.StopTyping(g.peer)
}

func (g *Guard) receiverExpired() {
	if g.onExpire != nil {
		g.onExpire("receiver")
	}
	g.clearPeer(g.peer)
}

func (g *Guard) clearPeer(peer string) {
	if !g.state.Has(PeerTyping) {
		return
	}
	g.state &^= PeerTyping
	if g.onChange != nil {
		g.onChange(peer, false)
	}
}
