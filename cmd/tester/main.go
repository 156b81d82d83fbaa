package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"social-lab/auth"
	"social-lab/domain"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

// step is one scripted action and the event that proves it worked.
type step struct {
	name string
	run  func(ctx context.Context) error
}

type result struct {
	name     string
	err      error
	duration time.Duration
}

// main replays the party and direct message scenarios against a running server.
func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	debug := func(name string, f frame) {
		if cfg.DebugJSON {
			fmt.Printf("%s <- %s %s\n", name, f.Event, string(f.Data))
		}
	}

	ctx := context.Background()
	tokens := auth.NewTokens(cfg.JwtSecret)
	run := uuid.NewString()[:8]
	alice, err := dial(ctx, cfg, tokens, "alice-"+run, "Alice "+run, debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer alice.close()
	bob, err := dial(ctx, cfg, tokens, "bob-"+run, "Bob "+run, debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer bob.close()

	results := play(ctx, cfg.Timeout, scenario(alice, bob))
	render(cfg, results)
	for _, r := range results {
		if r.err != nil {
			os.Exit(1)
		}
	}
}

func scenario(alice, bob *peer) []step {
	var (
		conversationID domain.ConversationID
		partyID        domain.PartyID
		inviteID       string
	)
	return []step{
		{"alice sends a friend request", func(ctx context.Context) error {
			if err := alice.send(domain.FriendsRequestSend, map[string]any{"target_user_id": bob.name}); err != nil {
				return err
			}
			return bob.expect(ctx, domain.FriendRequestReceived, nil)
		}},
		{"bob accepts it", func(ctx context.Context) error {
			if err := bob.send(domain.FriendsRequestAccept, map[string]any{"user_id": alice.name}); err != nil {
				return err
			}
			var state struct {
				Friends []json.RawMessage `json:"friends"`
			}
			return alice.expectWhere(ctx, domain.FriendsStateEvent, &state, func() bool { return len(state.Friends) == 1 })
		}},
		{"alice opens the direct conversation", func(ctx context.Context) error {
			if err := alice.send(domain.ChatOpenDM, map[string]any{"friend_user_id": bob.name}); err != nil {
				return err
			}
			var opened struct {
				Conversation struct {
					Conversation struct {
						ID domain.ConversationID `json:"id"`
					} `json:"conversation"`
				} `json:"conversation"`
			}
			if err := alice.expect(ctx, domain.ChatOpen, &opened); err != nil {
				return err
			}
			conversationID = opened.Conversation.Conversation.ID
			return nil
		}},
		{"alice says hello, bob gets it unread", func(ctx context.Context) error {
			if err := alice.send(domain.ChatSend, map[string]any{"conversation_id": conversationID, "type": "text", "body_text": "hello"}); err != nil {
				return err
			}
			if err := bob.expect(ctx, domain.ChatMessage, nil); err != nil {
				return err
			}
			var unread struct {
				UnreadCount int `json:"unread_count"`
			}
			if err := bob.expect(ctx, domain.ChatUnread, &unread); err != nil {
				return err
			}
			if unread.UnreadCount != 1 {
				return fmt.Errorf("expected 1 unread, got %d", unread.UnreadCount)
			}
			return nil
		}},
		{"alice creates a party", func(ctx context.Context) error {
			if err := alice.send(domain.PartyCreate, nil); err != nil {
				return err
			}
			var state struct {
				Party *struct {
					ID domain.PartyID `json:"id"`
				} `json:"party"`
			}
			if err := alice.expectWhere(ctx, domain.PartyStateEvent, &state, func() bool { return state.Party != nil }); err != nil {
				return err
			}
			partyID = state.Party.ID
			return nil
		}},
		{"alice invites bob", func(ctx context.Context) error {
			if err := alice.send(domain.PartyInviteSend, map[string]any{"party_id": partyID, "invitee_user_id": bob.name}); err != nil {
				return err
			}
			var received struct {
				Invite struct {
					ID string `json:"id"`
				} `json:"invite"`
			}
			if err := bob.expect(ctx, domain.PartyInviteReceived, &received); err != nil {
				return err
			}
			inviteID = received.Invite.ID
			return nil
		}},
		{"bob joins the party", func(ctx context.Context) error {
			if err := bob.send(domain.PartyInviteAccept, map[string]any{"invite_id": inviteID}); err != nil {
				return err
			}
			var state struct {
				Party *struct {
					Members []json.RawMessage `json:"members"`
				} `json:"party"`
			}
			return alice.expectWhere(ctx, domain.PartyStateEvent, &state, func() bool {
				return state.Party != nil && len(state.Party.Members) == 2
			})
		}},
		{"alice leaves, bob leads", func(ctx context.Context) error {
			if err := alice.send(domain.PartyLeave, map[string]any{"party_id": partyID}); err != nil {
				return err
			}
			var state struct {
				Party *struct {
					LeaderID string `json:"leader_id"`
				} `json:"party"`
			}
			// Times out unless bob is promoted
			return bob.expectWhere(ctx, domain.PartyStateEvent, &state, func() bool {
				return state.Party != nil && state.Party.LeaderID == bob.name
			})
		}},
	}
}

// play stops at the first failure, later steps depend on earlier ones.
func play(ctx context.Context, timeout time.Duration, steps []step) []result {
	results := make([]result, 0, len(steps))
	for _, s := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := s.run(stepCtx)
		cancel()
		results = append(results, result{name: s.name, err: err, duration: time.Since(start)})
		if err != nil {
			break
		}
	}
	return results
}

func render(cfg Config, results []result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Step", "Result", "Duration", "Error"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, r := range results {
		status, detail := "PASS", ""
		if r.err != nil {
			status, detail = "FAIL", r.err.Error()
		}
		if cfg.Colours {
			if r.err != nil {
				status = color.New(color.FgRed, color.OpBold).Render(status)
			} else {
				status = color.New(color.FgGreen).Render(status)
			}
		}
		table.Append([]string{r.name, status, r.duration.Round(time.Millisecond).String(), detail})
	}
	table.Render()
}
