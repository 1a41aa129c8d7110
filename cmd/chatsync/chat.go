package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/whisper/chatsync/internal/api"
	"github.com/whisper/chatsync/internal/chat"
	"github.com/whisper/chatsync/internal/config"
	"github.com/whisper/chatsync/internal/messaging"
	"github.com/whisper/chatsync/internal/metrics"
	"github.com/whisper/chatsync/internal/ratelimit"
	"github.com/whisper/chatsync/internal/session"
	"github.com/whisper/chatsync/internal/state"
	"github.com/whisper/chatsync/internal/ws"
)

var chatCommand = &cli.Command{
	Name:      "chat",
	Usage:     "Open an interactive chat session",
	ArgsUsage: "[FRIEND_ID]",
	Action:    cmdChat,
}

const chatHelp = `Commands:
  /open ID            open the conversation with a friend
  /close              close the open conversation
  /draft [TEXT]       update the compose field (empty stops typing)
  /image PATH         send an image
  /voice PATH SECS    send a voice recording
  /recall ID          recall one of your messages
  /delete ID          hide a message from your view
  /history            print the open conversation
  /friends            list friends
  /requests           list pending friend requests
  /search QUERY       search users
  /add ID             send a friend request
  /accept ID          accept a friend request
  /reject ID          reject a friend request
  /quit               leave
Anything else is sent as a text message.`

func cmdChat(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	log := getLogger(ctx)
	user, err := requireUser(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var limiter *ratelimit.Limiter
	if cfg.Limits.Throttle {
		limiter = ratelimit.NewLimiter()
	}

	out := newPrinter(os.Stdout, user.ID)
	ctrl := session.New(cfg.Session(), session.Deps{
		SelfID:   user.ID,
		API:      api.NewClient(cfg.APIClient(), log),
		Limiter:  limiter,
		Listener: out,
		Log:      log,
	})
	out.ctrl = ctrl

	closeStream, err := startStream(runCtx, cfg, user.ID, ctrl, limiter, log)
	if err != nil {
		return err
	}
	// The session goes first so the open conversation still gets its
	// stopTyping over the live stream.
	defer closeStream()
	defer ctrl.Close()

	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, log)
		defer shutdown()
	}

	if fs, ok := getStore(ctx).(*state.FileStore); ok {
		go func() {
			err := fs.Watch(runCtx, func(p state.Prefs) {
				out.line("* preferences changed: language %s, theme %s", p.Language, p.Theme)
			})
			if err != nil {
				log.Warn().Err(err).Msg("Preference watch stopped")
			}
		}()
	}

	fmt.Fprintf(os.Stdout, "Logged in as %s. Type /help for commands.\n", user.Username)
	if ctx.NArg() > 0 {
		out.open(runCtx, ctx.Args().Get(0))
	}

	lines := readLines(os.Stdin)
	for {
		select {
		case <-runCtx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := out.exec(runCtx, line); quit {
				return nil
			}
		}
	}
}

// startStream connects the configured transport and attaches it to ctrl.
// The returned func disconnects it.
func startStream(ctx context.Context, cfg *config.Config, userID string, ctrl *session.Controller, limiter *ratelimit.Limiter, log zerolog.Logger) (func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		s, err := messaging.Dial(cfg.NATS(), userID, log)
		if err != nil {
			return nil, err
		}
		ctrl.Attach(s)
		if err := s.Subscribe(ctrl.HandleFrame); err != nil {
			s.Close()
			return nil, err
		}
		return func() { s.Close() }, nil

	default:
		client := ws.NewClient(cfg.WS(), ws.HandlerFunc(ctrl.HandleFrame), limiter, log)
		ctrl.Attach(client)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := client.Run(ctx); err != nil && !errors.Is(err, ws.ErrClosed) && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Event stream stopped")
			}
		}()
		return func() {
			client.Close()
			<-done
		}, nil
	}
}

func serveMetrics(addr string, log zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// printer renders the session on a terminal. It is the controller's
// listener and runs the typed commands.
type printer struct {
	self string
	ctrl *session.Controller

	mu     sync.Mutex
	w      io.Writer
	shown  map[string]string // message key -> last rendered line
	typing bool
}

func newPrinter(w io.Writer, self string) *printer {
	return &printer{self: self, w: w, shown: make(map[string]string)}
}

func (p *printer) line(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) Notice(n session.Notice) {
	p.line("! %s", n.Text)
}

func (p *printer) Changed(c session.Change) {
	if c.Has(session.ChangeConversation) {
		p.mu.Lock()
		p.shown = make(map[string]string)
		p.typing = false
		p.mu.Unlock()
	}
	if c.Has(session.ChangeLog) {
		p.renderNew()
	}
	if c.Has(session.ChangeTyping) {
		typing, peer := p.ctrl.PeerTyping(), p.ctrl.Peer()
		p.mu.Lock()
		if typing != p.typing {
			p.typing = typing
			if typing {
				fmt.Fprintf(p.w, "  %s is typing...\n", peer)
			}
		}
		p.mu.Unlock()
	}
}

// renderNew prints entries that are new or whose rendering changed.
func (p *printer) renderNew() {
	msgs := p.ctrl.Messages()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		key := m.ClientRef
		if key == "" {
			key = m.ID
		}
		s := p.render(m)
		if p.shown[key] == s {
			continue
		}
		p.shown[key] = s
		fmt.Fprintln(p.w, s)
	}
}

func (p *printer) render(m chat.Message) string {
	who := m.FromID
	if who == p.self {
		who = "me"
	}
	body := m.Content
	switch {
	case m.IsRecalled:
		body = "(recalled)"
	case m.Type == chat.TypeImage:
		body = chat.ImageLabel + " " + firstNonEmpty(m.ImageURL, m.LocalRef)
	case m.Type == chat.TypeVoice:
		body = fmt.Sprintf("%s %ds %s", chat.VoiceLabel, m.VoiceDuration, firstNonEmpty(m.VoiceURL, m.LocalRef))
	}
	var flags []string
	if m.FromID == p.self {
		if m.Status != chat.StatusSent {
			flags = append(flags, string(m.Status))
		} else if m.IsRead {
			flags = append(flags, "read")
		}
	}
	s := fmt.Sprintf("[%s] %s <%s> %s", m.Timestamp.Local().Format("15:04"), m.ID, who, body)
	if len(flags) > 0 {
		s += " (" + strings.Join(flags, ",") + ")"
	}
	return s
}

func (p *printer) open(ctx context.Context, peer string) {
	if err := p.ctrl.SelectConversation(ctx, peer); err != nil && !errors.Is(err, session.ErrStale) {
		return
	}
	if peer != "" {
		p.line("-- conversation with %s --", peer)
	}
}

// exec runs one typed line. It reports whether the user asked to quit.
func (p *printer) exec(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		if strings.TrimSpace(line) == "" {
			return false
		}
		p.report(p.ctrl.SendText(line))
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		p.line("%s", chatHelp)
	case "/open":
		p.open(ctx, arg)
	case "/close":
		p.open(ctx, "")
	case "/draft":
		p.ctrl.Input(arg)
	case "/image":
		data, err := os.ReadFile(arg)
		if err != nil {
			p.line("! %v", err)
			return false
		}
		p.report(p.ctrl.SendImage(ctx, filepath.Base(arg), data))
	case "/voice":
		path, secs, _ := strings.Cut(arg, " ")
		n, err := strconv.Atoi(strings.TrimSpace(secs))
		if err != nil {
			p.line("! usage: /voice PATH SECONDS")
			return false
		}
		data, err := os.ReadFile(path)
		if err != nil {
			p.line("! %v", err)
			return false
		}
		p.report(p.ctrl.SendVoice(ctx, filepath.Base(path), data, n))
	case "/recall":
		p.report(p.ctrl.Recall(arg))
	case "/delete":
		p.report(p.ctrl.Delete(arg))
	case "/history":
		p.mu.Lock()
		p.shown = make(map[string]string)
		p.mu.Unlock()
		p.renderNew()
	case "/friends":
		if p.ctrl.Refresh(ctx) == nil {
			friends := p.ctrl.Friends()
			p.mu.Lock()
			printFriends(friends)
			p.mu.Unlock()
		}
	case "/requests":
		if p.ctrl.Refresh(ctx) == nil {
			reqs := p.ctrl.Requests()
			p.mu.Lock()
			printRequests(reqs)
			p.mu.Unlock()
		}
	case "/search":
		users, err := p.ctrl.Search(ctx, arg)
		if err == nil {
			p.mu.Lock()
			printUsers(users)
			p.mu.Unlock()
		}
	case "/add":
		p.report(p.ctrl.SendFriendRequest(ctx, arg))
	case "/accept":
		p.report(p.ctrl.RespondFriendRequest(ctx, arg, true))
	case "/reject":
		p.report(p.ctrl.RespondFriendRequest(ctx, arg, false))
	default:
		p.line("! unknown command %s, try /help", cmd)
	}
	return false
}

// report prints errors the controller did not already raise as a notice.
func (p *printer) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoConversation):
		p.line("! open a conversation first with /open ID")
	case errors.Is(err, chat.ErrNotFound):
		p.line("! no such message")
	case errors.Is(err, chat.ErrRecalled):
		p.line("! message was already recalled")
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrNotConnected):
		p.line("! %v", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
