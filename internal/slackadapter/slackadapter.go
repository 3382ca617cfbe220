// Package slackadapter is the chat surface of the broker (spec §4.8):
// a Slack Socket Mode client that renders approval cards, continuation
// prompts, and stall nudges as interactive messages, and dispatches
// button/modal interactions back into the coordinator. Socket Mode has
// no grounding anywhere in the retrieval pack — vanducng-goclaw carries
// only an unused SlackConfig struct — so this is the one component built
// directly against github.com/slack-go/slack's documented API shape
// rather than adapted from an in-pack file (see DESIGN.md).
package slackadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/chatqueue"
	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// InteractionHandler is invoked for every button click or modal submit
// routed to this adapter, after the authorization gate passes.
type InteractionHandler func(ctx context.Context, in Interaction) error

// Interaction is a normalized Slack block-action or view-submission
// event, decoupled from slack-go's wire types so the tool/session layer
// never imports slack-go directly.
type Interaction struct {
	ActionID   string
	Value      string
	UserID     string
	ChannelID  string
	MessageTS  string
	TriggerID  string            // set on block actions, needed to open a modal in response
	ViewValues map[string]string // flattened modal input block values, keyed by block_id
}

// Adapter wraps a Socket Mode client, an authorization allowlist, and an
// action-ID-prefix dispatch table.
type Adapter struct {
	client       *slack.Client
	socket       *socketmode.Client
	authorized   map[string]struct{}
	handlers     map[string]InteractionHandler
	queue        *chatqueue.Queue
	log          *obslog.Logger
	defaultChan  string
}

// Config configures the Socket Mode connection and authorization gate.
type Config struct {
	BotToken        string
	AppToken        string
	AuthorizedUsers []string
	DefaultChannel  string
}

// New constructs an Adapter. Call Run to start processing events, and
// register interaction handlers with On before Run.
func New(cfg Config, log *obslog.Logger) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, apperr.New(apperr.Chat, "slack bot token and app token are required for Socket Mode")
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(client)

	authorized := make(map[string]struct{}, len(cfg.AuthorizedUsers))
	for _, u := range cfg.AuthorizedUsers {
		authorized[u] = struct{}{}
	}

	a := &Adapter{
		client:      client,
		socket:      socket,
		authorized:  authorized,
		handlers:    make(map[string]InteractionHandler),
		log:         log,
		defaultChan: cfg.DefaultChannel,
	}
	a.queue = chatqueue.New(a, chatqueue.Config{RatePerSecond: 1, Burst: 5}, log)
	return a, nil
}

// OpenView opens a modal in response to a block action, using the
// TriggerID captured on the Interaction that prompted it.
func (a *Adapter) OpenView(triggerID string, view slack.ModalViewRequest) error {
	_, err := a.client.OpenView(triggerID, view)
	if err != nil {
		return apperr.Wrap(apperr.Chat, "open slack modal view", err)
	}
	return nil
}

// Queue exposes the adapter's outbound FIFO for other components
// (stall detector nudges, session orchestrator status posts) to enqueue
// through.
func (a *Adapter) Queue() *chatqueue.Queue { return a.queue }

// On registers a handler for every action ID with the given prefix
// (e.g. "approve:", "reject:", "continue:") — mirrors the teacher's
// action-ID-prefix dispatch convention for interactive components.
func (a *Adapter) On(prefix string, handler InteractionHandler) {
	a.handlers[prefix] = handler
}

// IsAuthorized reports whether userID is on the operator allowlist. An
// empty allowlist means "open" (single-operator deployments commonly
// leave authorizedUsers unset and rely on the bot only being installed
// in a private channel).
func (a *Adapter) IsAuthorized(userID string) bool {
	if len(a.authorized) == 0 {
		return true
	}
	_, ok := a.authorized[userID]
	return ok
}

// Send implements chatqueue.Sender by posting or editing a Slack message.
func (a *Adapter) Send(ctx context.Context, msg chatqueue.OutboundMessage) error {
	channel := msg.Channel
	if channel == "" {
		channel = a.defaultChan
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if blocks, ok := msg.Blocks.(slack.Blocks); ok {
		opts = append(opts, slack.MsgOptionBlocks(blocks.BlockSet...))
	}
	if msg.ReplyToTS != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyToTS))
	}

	if msg.EditRef != "" {
		_, _, _, err := a.client.UpdateMessageContext(ctx, channel, msg.EditRef, opts...)
		if err != nil {
			return apperr.Wrap(apperr.Chat, "update slack message", err)
		}
		return nil
	}

	_, ts, err := a.client.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return apperr.Wrap(apperr.Chat, "post slack message", err)
	}
	_ = ts
	return nil
}

// Run connects via Socket Mode and processes events until ctx is
// cancelled. It must be called after On has registered every handler.
func (a *Adapter) Run(ctx context.Context) error {
	go a.queue.Run(ctx)

	go func() {
		for evt := range a.socket.Events {
			a.handleEvent(ctx, evt)
		}
	}()

	return a.socket.RunContext(ctx)
}

func (a *Adapter) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)
		a.dispatchInteraction(ctx, cb)
	case socketmode.EventTypeConnecting, socketmode.EventTypeConnected, socketmode.EventTypeConnectionError:
		a.log.Debug("slack socket mode connection state changed", zap.String("type", string(evt.Type)))
	default:
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
	}
}

func (a *Adapter) dispatchInteraction(ctx context.Context, cb slack.InteractionCallback) {
	userID := cb.User.ID
	if !a.IsAuthorized(userID) {
		a.log.Warn("rejected interaction from unauthorized user", zap.String("user_id", userID))
		return
	}

	in := Interaction{UserID: userID, ChannelID: cb.Channel.ID, TriggerID: cb.TriggerID}

	switch cb.Type {
	case slack.InteractionTypeBlockActions:
		if len(cb.ActionCallback.BlockActions) == 0 {
			return
		}
		action := cb.ActionCallback.BlockActions[0]
		in.ActionID = action.ActionID
		in.Value = action.Value
		in.MessageTS = cb.Message.Timestamp
	case slack.InteractionTypeViewSubmission:
		in.ActionID = cb.View.CallbackID
		in.ViewValues = flattenViewValues(cb.View.State)
	default:
		return
	}

	handler, ok := a.lookupHandler(in.ActionID)
	if !ok {
		a.log.Warn("no handler registered for action", zap.String("action_id", in.ActionID))
		return
	}
	if err := handler(ctx, in); err != nil {
		a.log.Error("interaction handler failed", zap.String("action_id", in.ActionID), zap.Error(err))
	}
}

func (a *Adapter) lookupHandler(actionID string) (InteractionHandler, bool) {
	for prefix, h := range a.handlers {
		if strings.HasPrefix(actionID, prefix) {
			return h, true
		}
	}
	return nil, false
}

func flattenViewValues(state *slack.ViewState) map[string]string {
	if state == nil {
		return nil
	}
	out := make(map[string]string)
	for blockID, actions := range state.Values {
		for _, v := range actions {
			if v.Value != "" {
				out[blockID] = v.Value
			} else if v.SelectedOption.Value != "" {
				out[blockID] = v.SelectedOption.Value
			}
		}
	}
	return out
}

// ActionRef formats a chat_message_ref for a posted message.
func ActionRef(channel, ts string) string {
	return fmt.Sprintf("%s:%s", channel, ts)
}

// SplitActionRef parses a chat_message_ref back into channel and ts.
func SplitActionRef(ref string) (channel, ts string, ok bool) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
