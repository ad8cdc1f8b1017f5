// ABOUTME: Conversation state machine driving registration and message relay
// ABOUTME: Turns follow, text and postback events into replies, pushes and state changes

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/2389/courier/internal/directory"
	"github.com/2389/courier/internal/line"
	"github.com/2389/courier/internal/store"
)

// recipientPrefix starts the postback data of a recipient button.
const recipientPrefix = "recipient_"

// Postback payloads other than recipient selection.
const (
	ActionRegister = "register"
	ActionSend     = "send"
	ActionMenu     = "menu"
)

// Directory is what the machine needs from the user directory.
type Directory interface {
	Get(ctx context.Context, userID string) (*directory.Profile, error)
	Register(ctx context.Context, userID, name string, registeredAt int64) error
	All(ctx context.Context) ([]directory.Entry, error)
}

// RelayRecorder receives one record per relayed message.
type RelayRecorder interface {
	SaveRelay(ctx context.Context, r *store.Relay) error
}

// Event is one inbound event addressed to the machine. Text carries the
// message text for text events and Data the payload for postbacks.
type Event struct {
	UserID     string
	ReplyToken string
	Timestamp  int64 // epoch ms
	Text       string
	Data       string
}

// Config configures a Machine.
type Config struct {
	Directory Directory
	Gateway   line.Gateway
	States    StateStore    // defaults to an in-memory store
	Ledger    RelayRecorder // optional
	IntroURL  string
	Logger    *slog.Logger
}

// Machine handles inbound events. Events for the same user are processed one
// at a time; different users proceed in parallel.
type Machine struct {
	dir      Directory
	gateway  line.Gateway
	states   StateStore
	ledger   RelayRecorder
	introURL string
	locks    *userLocks
	logger   *slog.Logger
}

// New creates a Machine.
func New(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	states := cfg.States
	if states == nil {
		states = NewMemoryStateStore()
	}
	return &Machine{
		dir:      cfg.Directory,
		gateway:  cfg.Gateway,
		states:   states,
		ledger:   cfg.Ledger,
		introURL: cfg.IntroURL,
		locks:    newUserLocks(),
		logger:   logger.With("component", "conversation"),
	}
}

// HandleFollow greets a user who added the bot. Unregistered users are asked
// for a name.
func (m *Machine) HandleFollow(ctx context.Context, ev Event) {
	defer m.locks.lock(ev.UserID)()

	profile, err := m.dir.Get(ctx, ev.UserID)
	switch {
	case err == nil:
		m.reply(ctx, ev, welcomeBack(profile.Name))
	case errors.Is(err, directory.ErrNotFound):
		m.states.Set(ev.UserID, AwaitingName())
		m.reply(ctx, ev, text(textWelcome, stickerWelcome))
	default:
		m.logger.Error("loading profile", "user_id", ev.UserID, "error", err)
		m.reply(ctx, ev, text(textInternalError))
	}
}

// HandleText processes a text message. An active flow sees the text first;
// otherwise the text is resolved as a command.
func (m *Machine) HandleText(ctx context.Context, ev Event) {
	defer m.locks.lock(ev.UserID)()

	cmd := ParseCommand(ev.Text)
	if state, ok := m.states.Get(ev.UserID); ok {
		switch state.Kind {
		case KindAwaitingName:
			m.handleName(ctx, ev, cmd)
			return
		case KindForwarding:
			m.handleForwarding(ctx, ev, cmd, state.Forwarding)
			return
		}
	}

	switch cmd {
	case CmdCancel:
		m.cancelIdle(ctx, ev)
	case CmdRegister:
		m.startRegistration(ctx, ev, stickerRegister)
	case CmdIntro:
		m.intro(ctx, ev)
	case CmdSend:
		m.startRelay(ctx, ev, true)
	case CmdMenu:
		m.menu(ctx, ev)
	case CmdText:
		m.echo(ctx, ev)
	}
}

// HandleAction processes a postback payload.
func (m *Machine) HandleAction(ctx context.Context, ev Event) {
	defer m.locks.lock(ev.UserID)()

	switch data := strings.TrimSpace(ev.Data); {
	case strings.HasPrefix(data, recipientPrefix):
		m.pickRecipientButton(ctx, ev, strings.TrimPrefix(data, recipientPrefix))
	case data == ActionRegister:
		m.startRegistration(ctx, ev, stickerRegisterTap)
	case data == ActionSend:
		m.startRelay(ctx, ev, false)
	case data == ActionMenu:
		m.menu(ctx, ev)
	default:
		m.logger.Warn("ignoring unknown postback", "user_id", ev.UserID, "data", data)
	}
}

func (m *Machine) handleName(ctx context.Context, ev Event, cmd Command) {
	if cmd == CmdCancel {
		m.states.Clear(ev.UserID)
		m.reply(ctx, ev, text(textRegisterCancel, stickerCancel))
		return
	}

	name := strings.TrimSpace(ev.Text)
	if name == "" {
		m.reply(ctx, ev, text(textNameBlank))
		return
	}

	err := m.dir.Register(ctx, ev.UserID, name, ev.Timestamp)
	switch {
	case errors.Is(err, directory.ErrNameTaken):
		m.reply(ctx, ev, text(textNameTaken, stickerNameTaken))
	case err != nil:
		m.logger.Error("registering user", "user_id", ev.UserID, "error", err)
		m.reply(ctx, ev, text(textInternalError))
	default:
		m.states.Clear(ev.UserID)
		m.logger.Debug("registration flow complete", "user_id", ev.UserID)
		m.reply(ctx, ev, registered(name))
	}
}

func (m *Machine) handleForwarding(ctx context.Context, ev Event, cmd Command, f *Forwarding) {
	if cmd == CmdCancel {
		m.states.Clear(ev.UserID)
		m.reply(ctx, ev, text(textRelayCancel, stickerRelayCancel))
		return
	}

	switch f.Stage {
	case StageAwaitingRecipient:
		n, err := parseChoice(ev.Text)
		if err != nil {
			m.reply(ctx, ev, text(textBadNumber))
			return
		}
		if n < 1 || n > len(f.Candidates) {
			m.reply(ctx, ev, badRange(len(f.Candidates)))
			return
		}
		m.selectRecipient(ctx, ev, f, n-1)

	case StageAwaitingMessage:
		m.relay(ctx, ev, f)
	}
}

// parseChoice reads a list number typed in any decimal digit script, so
// full-width input from a CJK keyboard selects the same entry as ASCII.
func parseChoice(s string) (int, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r < utf8.RuneSelf || !unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(byte('0' + digitValue(r)))
	}
	return strconv.Atoi(b.String())
}

// digitValue returns the value of a decimal digit rune. Decimal digits are
// encoded in ascending runs of ten starting at zero.
func digitValue(r rune) int {
	n := 0
	for unicode.IsDigit(r - rune(n+1)) {
		n++
	}
	return n % 10
}

// pickRecipientButton handles a recipient button. It is only valid while the
// user is choosing a recipient.
func (m *Machine) pickRecipientButton(ctx context.Context, ev Event, index string) {
	state, ok := m.states.Get(ev.UserID)
	if !ok || state.Kind != KindForwarding || state.Forwarding.Stage != StageAwaitingRecipient {
		m.reply(ctx, ev, text(textSendFirst))
		return
	}

	i, err := strconv.Atoi(index)
	if err != nil || i < 0 || i >= len(state.Forwarding.Candidates) {
		m.reply(ctx, ev, text(textBadButton, stickerBadChoice))
		return
	}
	m.selectRecipient(ctx, ev, state.Forwarding, i)
}

func (m *Machine) selectRecipient(ctx context.Context, ev Event, f *Forwarding, i int) {
	c := f.Candidates[i]
	f.Stage = StageAwaitingMessage
	f.RecipientID = c.UserID
	f.RecipientName = c.Name
	m.states.Set(ev.UserID, State{Kind: KindForwarding, Forwarding: f})
	m.reply(ctx, ev, askMessage(c.Name))
}

// relay pushes the text to the chosen recipient. The flow ends whether or
// not the push succeeds.
func (m *Machine) relay(ctx context.Context, ev Event, f *Forwarding) {
	m.states.Clear(ev.UserID)

	sender := ev.UserID
	if profile, err := m.dir.Get(ctx, ev.UserID); err == nil {
		sender = profile.Name
	} else {
		m.logger.Warn("relay sender has no profile", "user_id", ev.UserID, "error", err)
	}

	pushErr := m.gateway.Push(ctx, f.RecipientID, line.NewText(relayBody(sender, ev.Text)))
	m.recordRelay(ctx, ev.UserID, sender, f, ev.Text, pushErr)

	if pushErr != nil {
		m.logger.Error("relay push failed", "sender", ev.UserID, "recipient", f.RecipientID, "error", pushErr)
		m.reply(ctx, ev, relayFailed(pushErr))
		return
	}
	m.logger.Info("message relayed", "sender", ev.UserID, "recipient", f.RecipientID)
	m.reply(ctx, ev, relaySent(f.RecipientName))
}

func (m *Machine) recordRelay(ctx context.Context, senderID, senderName string, f *Forwarding, body string, pushErr error) {
	if m.ledger == nil {
		return
	}
	r := &store.Relay{
		SenderID:      senderID,
		SenderName:    senderName,
		RecipientID:   f.RecipientID,
		RecipientName: f.RecipientName,
		Body:          body,
		Status:        store.StatusSent,
	}
	if pushErr != nil {
		r.Status = store.StatusFailed
		r.Error = pushErr.Error()
	}
	if err := m.ledger.SaveRelay(context.WithoutCancel(ctx), r); err != nil {
		m.logger.Warn("failed to record relay", "sender", senderID, "error", err)
	}
}

func (m *Machine) cancelIdle(ctx context.Context, ev Event) {
	if _, ok := m.requireRegistered(ctx, ev); !ok {
		return
	}
	m.reply(ctx, ev, text(textNothingToCancel, stickerNothingCancel))
}

func (m *Machine) startRegistration(ctx context.Context, ev Event, sticker line.Message) {
	m.states.Set(ev.UserID, AwaitingName())
	m.reply(ctx, ev, text(textRegisterPrompt, sticker))
}

func (m *Machine) intro(ctx context.Context, ev Event) {
	if _, ok := m.requireRegistered(ctx, ev); !ok {
		return
	}
	if m.introURL == "" {
		m.reply(ctx, ev, text(textNoIntro))
		return
	}
	m.reply(ctx, ev, introLink(m.introURL))
}

// startRelay snapshots every other registered user, in directory order, as
// the candidate list and asks for a choice. Any flow already in progress is
// replaced.
func (m *Machine) startRelay(ctx context.Context, ev Event, buttons bool) {
	if _, ok := m.requireRegistered(ctx, ev); !ok {
		return
	}

	entries, err := m.dir.All(ctx)
	if err != nil {
		m.logger.Error("listing users", "error", err)
		m.reply(ctx, ev, text(textInternalError))
		return
	}

	candidates := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		if e.UserID != ev.UserID {
			candidates = append(candidates, Candidate{UserID: e.UserID, Name: e.Profile.Name})
		}
	}
	if len(entries) < 2 || len(candidates) == 0 {
		m.reply(ctx, ev, text(textNoOtherUsers, stickerNoUsers))
		return
	}

	m.states.Set(ev.UserID, AwaitingRecipient(candidates))
	m.reply(ctx, ev, recipientPicker(candidates, buttons))
}

func (m *Machine) menu(ctx context.Context, ev Event) {
	profile, ok := m.requireRegistered(ctx, ev)
	if !ok {
		return
	}
	m.reply(ctx, ev, menu(profile.Name, m.introURL))
}

func (m *Machine) echo(ctx context.Context, ev Event) {
	profile, ok := m.requireRegistered(ctx, ev)
	if !ok {
		return
	}
	m.reply(ctx, ev, echo(profile.Name, ev.Text))
}

// requireRegistered returns the user's profile, or replies with the
// registration prompt and returns false.
func (m *Machine) requireRegistered(ctx context.Context, ev Event) (*directory.Profile, bool) {
	profile, err := m.dir.Get(ctx, ev.UserID)
	if err == nil {
		return profile, true
	}
	if errors.Is(err, directory.ErrNotFound) {
		m.reply(ctx, ev, registerPrompt())
	} else {
		m.logger.Error("loading profile", "user_id", ev.UserID, "error", err)
		m.reply(ctx, ev, text(textInternalError))
	}
	return nil, false
}

// reply sends r and, if that fails, the plain-text fallback. Errors are
// logged and never returned.
func (m *Machine) reply(ctx context.Context, ev Event, r response) {
	err := m.gateway.Reply(ctx, ev.ReplyToken, r.messages...)
	if err == nil {
		return
	}
	m.logger.Error("reply failed", "user_id", ev.UserID, "error", err)

	fallback := r.fallback
	if fallback == "" && len(r.messages) > 1 && r.messages[0].Type == line.MessageTypeText {
		fallback = r.messages[0].Text
	}
	if fallback == "" {
		return
	}
	if err := m.gateway.Reply(ctx, ev.ReplyToken, line.NewText(fallback)); err != nil {
		m.logger.Error("fallback reply failed", "user_id", ev.UserID, "error", err)
	}
}
