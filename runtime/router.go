package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"social-lab/services"
	"time"

	"github.com/go-playground/validator/v10"
)

// Handler runs one inbound event for an authenticated user.
type Handler func(ctx context.Context, user domain.UserID, data json.RawMessage) (domain.Outcome, error)

// Services are the managers the router dispatches to.
type Services struct {
	Friends  services.IFriendService
	Presence services.IPresenceService
	Parties  services.IPartyService
	Chat     services.IChatService
	Session  services.ISessionService
}

// Router owns the closed table of inbound events. It admits, decodes and validates
// each event, runs its manager and applies the outcome to the registry.
type Router struct {
	log      *slog.Logger
	registry contract.IRegistry
	limiter  contract.IRateLimiter
	validate *validator.Validate
	handlers map[domain.EventKind]Handler
	timeout  time.Duration
	session  services.ISessionService
}

func NewRouter(log *slog.Logger, registry contract.IRegistry, limiter contract.IRateLimiter, svc Services, timeout time.Duration) *Router {
	r := &Router{
		log:      log,
		registry: registry,
		limiter:  limiter,
		validate: validator.New(),
		timeout:  timeout,
		session:  svc.Session,
	}
	r.handlers = map[domain.EventKind]Handler{
		domain.FriendsSearch: handle(r, func(ctx context.Context, user domain.UserID, p searchPayload) (domain.Outcome, error) {
			return svc.Friends.Search(ctx, user, p.Query)
		}),
		domain.FriendsRequestSend: handle(r, func(ctx context.Context, user domain.UserID, p requestSendPayload) (domain.Outcome, error) {
			return svc.Friends.SendRequest(ctx, user, p.TargetUserID)
		}),
		domain.FriendsRequestAccept: handle(r, func(ctx context.Context, user domain.UserID, p requestAnswerPayload) (domain.Outcome, error) {
			return svc.Friends.Accept(ctx, user, p.RequestID, p.UserID)
		}),
		domain.FriendsRequestDecline: handle(r, func(ctx context.Context, user domain.UserID, p requestAnswerPayload) (domain.Outcome, error) {
			return svc.Friends.Decline(ctx, user, p.RequestID, p.UserID)
		}),
		domain.FriendsRemove: handle(r, func(ctx context.Context, user domain.UserID, p removePayload) (domain.Outcome, error) {
			return svc.Friends.Remove(ctx, user, p.FriendUserID)
		}),
		domain.FriendsBlock: handle(r, func(ctx context.Context, user domain.UserID, p blockPayload) (domain.Outcome, error) {
			return svc.Friends.Block(ctx, user, p.UserID)
		}),
		domain.PresenceSet: handle(r, func(ctx context.Context, user domain.UserID, p presencePayload) (domain.Outcome, error) {
			return svc.Presence.SetStatus(ctx, user, p.Status)
		}),
		domain.SocialActivitySet: handle(r, func(ctx context.Context, user domain.UserID, p domain.Activity) (domain.Outcome, error) {
			return svc.Presence.SetActivity(ctx, user, p)
		}),
		domain.PartyCreate: handle(r, func(ctx context.Context, user domain.UserID, _ struct{}) (domain.Outcome, error) {
			return svc.Parties.Create(ctx, user)
		}),
		domain.PartyInviteSend: handle(r, func(ctx context.Context, user domain.UserID, p partyInvitePayload) (domain.Outcome, error) {
			return svc.Parties.Invite(ctx, user, p.PartyID, p.InviteeUserID)
		}),
		domain.PartyInviteAccept: handle(r, func(ctx context.Context, user domain.UserID, p inviteAnswerPayload) (domain.Outcome, error) {
			return svc.Parties.AcceptInvite(ctx, user, p.InviteID)
		}),
		domain.PartyInviteDecline: handle(r, func(ctx context.Context, user domain.UserID, p inviteAnswerPayload) (domain.Outcome, error) {
			return svc.Parties.DeclineInvite(ctx, user, p.InviteID)
		}),
		domain.PartyLeave: handle(r, func(ctx context.Context, user domain.UserID, p partyLeavePayload) (domain.Outcome, error) {
			return svc.Parties.Leave(ctx, user, p.PartyID)
		}),
		domain.PartyKick: handle(r, func(ctx context.Context, user domain.UserID, p partyKickPayload) (domain.Outcome, error) {
			return svc.Parties.Kick(ctx, user, p.PartyID, p.MemberUserID)
		}),
		domain.PartyTransferLeader: handle(r, func(ctx context.Context, user domain.UserID, p partyTransferPayload) (domain.Outcome, error) {
			return svc.Parties.TransferLeader(ctx, user, p.PartyID, p.NewLeaderID)
		}),
		domain.ChatList: handle(r, func(ctx context.Context, user domain.UserID, _ struct{}) (domain.Outcome, error) {
			var outcome domain.Outcome
			conversations, err := svc.Chat.List(ctx, user)
			if err != nil {
				return outcome, err
			}
			outcome.Respond(domain.ChatList, chatListPayload{Conversations: conversations})
			return outcome, nil
		}),
		domain.ChatOpen: handle(r, func(ctx context.Context, user domain.UserID, p chatOpenPayload) (domain.Outcome, error) {
			return svc.Chat.Open(ctx, user, p.ConversationID, p.Limit)
		}),
		domain.ChatOpenDM: handle(r, func(ctx context.Context, user domain.UserID, p chatOpenDMPayload) (domain.Outcome, error) {
			return svc.Chat.OpenDM(ctx, user, p.FriendUserID)
		}),
		domain.ChatSend: handle(r, func(ctx context.Context, user domain.UserID, p chatSendPayload) (domain.Outcome, error) {
			return svc.Chat.Send(ctx, user, p.ConversationID, domain.MessageDraft{
				Type:     p.Type,
				BodyText: p.BodyText,
				Emoji:    p.Emoji,
				ImageURL: p.ImageURL,
			})
		}),
		domain.ChatTyping: handle(r, func(ctx context.Context, user domain.UserID, p chatTypingPayload) (domain.Outcome, error) {
			return svc.Chat.Typing(ctx, user, p.ConversationID, p.IsTyping)
		}),
		domain.ChatRead: handle(r, func(ctx context.Context, user domain.UserID, p chatReadPayload) (domain.Outcome, error) {
			return svc.Chat.Read(ctx, user, p.ConversationID, p.LastReadMessageID)
		}),
		domain.ChatHistoryBefore: handle(r, func(ctx context.Context, user domain.UserID, p chatHistoryPayload) (domain.Outcome, error) {
			return svc.Chat.HistoryBefore(ctx, user, p.ConversationID, p.BeforeMessageID, p.Limit)
		}),
	}
	return r
}

// handle decodes and validates the payload before calling fn.
// A missing or null payload decodes to the zero value.
func handle[T any](r *Router, fn func(ctx context.Context, user domain.UserID, payload T) (domain.Outcome, error)) Handler {
	return func(ctx context.Context, user domain.UserID, data json.RawMessage) (domain.Outcome, error) {
		var payload T
		if len(bytes.TrimSpace(data)) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			if err := json.Unmarshal(data, &payload); err != nil {
				return domain.Outcome{}, errors.Wrap(errors.ErrInvalidPayload, err)
			}
		}
		if err := r.validate.Struct(payload); err != nil {
			var invalid *validator.InvalidValidationError
			if !errors.As(err, &invalid) {
				return domain.Outcome{}, errors.Wrap(errors.ErrInvalidPayload, err)
			}
		}
		return fn(ctx, user, payload)
	}
}

// Kinds lists the accepted inbound events.
func (r *Router) Kinds() []domain.EventKind {
	kinds := make([]domain.EventKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Dispatch runs one inbound event. Failures are reported to the sending connection only.
func (r *Router) Dispatch(ctx context.Context, conn domain.ConnID, user domain.UserID, in domain.Inbound) {
	outcome, err := r.run(ctx, user, in)
	if err != nil {
		r.fail(ctx, conn, user, in.Event, err)
		return
	}
	r.Apply(ctx, conn, outcome)
}

func (r *Router) run(ctx context.Context, user domain.UserID, in domain.Inbound) (outcome domain.Outcome, err error) {
	// Admission comes first so that rejected traffic costs nothing else
	if !r.limiter.Admit(user, in.Event) {
		return outcome, errors.ErrRateLimited
	}
	handler, ok := r.handlers[in.Event]
	if !ok {
		return outcome, errors.ErrUnknownEvent
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Handler panicked", "event", in.Event, "user", user, "panic", rec, "stack", string(debug.Stack()))
			outcome, err = domain.Outcome{}, errors.Wrap(errors.ErrInternal, fmt.Errorf("%w: %v", errors.ErrWorkerPanic, rec))
		}
	}()
	return handler(ctx, user, in.Data)
}

func (r *Router) fail(ctx context.Context, conn domain.ConnID, user domain.UserID, event domain.EventKind, err error) {
	kind := errors.KindOf(err)
	switch kind {
	case errors.KindInternal:
		r.log.Error("Event failed", "event", event, "user", user, "error", err)
	case errors.KindUnavailable:
		r.log.Warn("Event failed on store", "event", event, "user", user, "error", err)
	default:
		r.log.Debug("Event rejected", "event", event, "user", user, "kind", kind, "error", err)
	}
	payload := domain.ErrorPayload{
		Message:   errors.PublicMessage(err),
		Code:      string(kind),
		Retryable: errors.IsRetryable(err),
	}
	if sendErr := r.registry.Send(ctx, conn, domain.Envelope{Event: domain.SocialError, Data: payload}); sendErr != nil {
		r.log.Debug("Error not delivered", "conn", conn, "error", sendErr)
	}
}

// Apply changes subscriptions first, then answers conn and finally fans out deliveries.
func (r *Router) Apply(ctx context.Context, conn domain.ConnID, outcome domain.Outcome) {
	for _, s := range outcome.Leaves {
		r.registry.Unsubscribe(s)
	}
	for _, s := range outcome.Joins {
		r.registry.Subscribe(s)
	}
	for _, room := range outcome.Drops {
		r.registry.DropRoom(room)
	}
	if outcome.Reply != nil && conn != "" {
		if err := r.registry.Send(ctx, conn, *outcome.Reply); err != nil {
			r.log.Debug("Reply not delivered", "conn", conn, "event", outcome.Reply.Event, "error", err)
		}
	}
	for _, d := range outcome.Deliveries {
		r.registry.Broadcast(ctx, d)
	}
}

// Connect registers an authenticated connection and bootstraps its state.
func (r *Router) Connect(ctx context.Context, conn domain.ConnID, profile domain.Profile, sink contract.EventSink) {
	r.registry.Register(conn, profile.UserID, sink)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	outcome, err := r.session.Connect(ctx, profile)
	if err != nil {
		r.fail(ctx, conn, profile.UserID, "connect", err)
	}
	r.Apply(ctx, conn, outcome)
}

// Disconnect releases every subscription of conn. Only the first call for a
// connection reaches presence, later calls find nothing to release.
func (r *Router) Disconnect(ctx context.Context, conn domain.ConnID, user domain.UserID) {
	if rooms := r.registry.LeaveAll(conn); len(rooms) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	outcome, err := r.session.Disconnect(ctx, user)
	if err != nil {
		r.log.Warn("Disconnect cleanup failed", "conn", conn, "user", user, "error", err)
		return
	}
	r.Apply(ctx, "", outcome)
}
