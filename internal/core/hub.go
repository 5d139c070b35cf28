package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akarpov/chatrelay/internal/store"
)

const (
	loginPrompt = "enter username,password (user,pass) or register (register user,pass):"

	registerMarker = "register"
)

// Options tunes hub behavior. Zero values fall back to defaults.
type Options struct {
	// HistoryLimit is the number of public messages replayed on login.
	HistoryLimit int
	// GroupHistoryLimit is the number of messages returned per group
	// history request.
	GroupHistoryLimit int
	// SessionQueueSize bounds each session's outbound queue.
	SessionQueueSize int
	// Now overrides the clock used for message timestamps.
	Now func() time.Time
}

// Hub coordinates every session: it runs the login state machine, routes
// authenticated frames, and fans messages out to their audience. Sessions
// hold no reference back into the hub; they are looked up through the
// registry only.
type Hub struct {
	store  store.Store
	reg    *Registry
	groups *GroupManager
	log    *zerolog.Logger

	historyLimit      int
	groupHistoryLimit int
	queueSize         int
	now               func() time.Time
}

// NewHub constructs a hub over the given store.
func NewHub(st store.Store, logger *zerolog.Logger, opts Options) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.GroupHistoryLimit <= 0 {
		opts.GroupHistoryLimit = 50
	}
	if opts.SessionQueueSize <= 0 {
		opts.SessionQueueSize = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		store:             st,
		reg:               NewRegistry(),
		groups:            NewGroupManager(st),
		log:               logger,
		historyLimit:      opts.HistoryLimit,
		groupHistoryLimit: opts.GroupHistoryLimit,
		queueSize:         opts.SessionQueueSize,
		now:               opts.Now,
	}
}

// OnlineUsers returns the usernames of currently registered sessions.
func (h *Hub) OnlineUsers() []string {
	return h.reg.Usernames()
}

// RecentHistory returns recent public messages, newest first.
func (h *Hub) RecentHistory(ctx context.Context) ([]*store.Message, error) {
	return h.store.RecentMessages(ctx, h.historyLimit)
}

// HandleSession owns one connection for its whole life: login, main read
// loop, teardown. It blocks until the connection is gone and never
// returns an error; a single session's failure must not reach the caller.
func (h *Hub) HandleSession(ctx context.Context, conn Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := newSession(conn, h.queueSize)
	h.log.Debug().Str("session_id", sess.ID).Msg("session opened")

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := sess.writeLoop(ctx); err != nil {
			h.log.Debug().Err(err).Str("session_id", sess.ID).Msg("session write failed")
		}
		// A dead writer makes the session useless; unblock the reader.
		cancel()
	}()

	authed := h.login(ctx, sess)
	if authed {
		h.readLoop(ctx, sess)
	}

	sess.Close()
	cancel()
	<-writeDone

	if authed {
		h.reg.Remove(sess)
		h.broadcastUsers()
		h.log.Info().Str("session_id", sess.ID).Str("user", sess.username).Msg("session closed")
	} else {
		h.log.Debug().Str("session_id", sess.ID).Msg("session closed before login")
	}
}

// login runs the credential sub-state machine: prompt, read one frame,
// register or verify, repeat until a login succeeds or the connection
// dies. Returns true once the session is authenticated and registered.
func (h *Hub) login(ctx context.Context, sess *Session) bool {
	prompt := true
	for {
		if prompt {
			sess.Push(loginPrompt)
		}
		prompt = true

		frame, err := sess.conn.ReadText(ctx)
		if err != nil {
			return false
		}
		line := strings.TrimSpace(frame)

		if rest, found := strings.CutPrefix(line, registerMarker); found {
			h.register(ctx, sess, rest)
			continue
		}

		user, pass, ok := splitCredentials(line)
		if !ok {
			continue
		}

		verified, err := h.store.VerifyUser(ctx, user, pass)
		if err != nil {
			h.log.Error().Err(err).Str("session_id", sess.ID).Msg("verify user")
			continue
		}
		if !verified {
			sess.Push("login failed, enter user,pass:")
			prompt = false
			continue
		}

		sess.username = user
		h.reg.Add(sess)
		h.log.Info().Str("session_id", sess.ID).Str("user", user).Msg("login")

		sess.Push("login successful, welcome " + user)
		h.pushMeta(ctx, sess)
		h.pushHistory(ctx, sess)
		h.broadcastUsers()
		return true
	}
}

// register handles one registration attempt. The session always stays in
// the credential state afterwards.
func (h *Hub) register(ctx context.Context, sess *Session, rest string) {
	user, pass, ok := splitCredentials(rest)
	if !ok {
		return
	}

	switch err := h.store.RegisterUser(ctx, user, pass); {
	case err == nil:
		h.log.Info().Str("user", user).Msg("registered")
		sess.Push("registration successful, please log in")
	case errors.Is(err, store.ErrUserExists):
		sess.Push("registration failed: username already exists")
	default:
		h.log.Error().Err(err).Str("user", user).Msg("register user")
		sess.Push("registration failed")
	}
}

// readLoop hands every authenticated frame to the router until the
// connection closes.
func (h *Hub) readLoop(ctx context.Context, sess *Session) {
	for {
		frame, err := sess.conn.ReadText(ctx)
		if err != nil {
			return
		}
		h.route(ctx, sess, frame)
	}
}

// splitCredentials splits "user,pass" on the first comma, trimming both
// sides. ok is false when there is no comma.
func splitCredentials(s string) (user, pass string, ok bool) {
	user, pass, ok = strings.Cut(s, ",")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(user), strings.TrimSpace(pass), true
}
