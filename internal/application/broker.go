package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/gateway"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/bnema/gateway-pool/internal/stream"
)

const (
	msgServerOffline  = "image server offline"
	msgGenerateFailed = "generate action failed"
)

var progressPattern = regexp.MustCompile(`\((\d{1,3})%\)`)

// Interactor runs one interaction on a ready session.
type Interactor interface {
	RunInteraction(ctx context.Context, action gateway.Action, h gateway.Handlers) (gateway.Message, error)
}

// AccountPool hands out accounts with their sessions. Release takes back the
// lease returned by the acquiring call.
type AccountPool[S Interactor] interface {
	Acquire(ctx context.Context) (pool.Lease, S, error)
	AcquireIf(pred func(domain.Account) bool) (pool.Lease, S, error)
	Release(ctx context.Context, lease pool.Lease) error
}

type BrokerOption[S Interactor] func(*Broker[S])

func WithPlanner[S Interactor](planner Planner) BrokerOption[S] {
	return func(b *Broker[S]) { b.planner = planner }
}

func WithAffinity[S Interactor](affinity *AffinityService) BrokerOption[S] {
	return func(b *Broker[S]) { b.affinity = affinity }
}

func WithLogger[S Interactor](logger *slog.Logger) BrokerOption[S] {
	return func(b *Broker[S]) { b.logger = logger }
}

// Broker runs actions on pooled sessions and renders their progress to a stream.
type Broker[S Interactor] struct {
	pool     AccountPool[S]
	planner  Planner
	affinity *AffinityService
	logger   *slog.Logger
}

func NewBroker[S Interactor](accounts AccountPool[S], opts ...BrokerOption[S]) *Broker[S] {
	b := &Broker[S]{pool: accounts, planner: LiteralPlanner{}}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Execute runs action and writes its progress to out, ending with done or error.
func (b *Broker[S]) Execute(ctx context.Context, action gateway.Action, out stream.Writer) error {
	if err := action.Validate(); err != nil {
		out.Write(stream.Error(err.Error(), http.StatusBadRequest))
		return err
	}

	lease, session, err := b.acquire(ctx, &action)
	if err != nil {
		if action.Kind == gateway.ActionComponent {
			out.Write(stream.Error(msgServerOffline, http.StatusServiceUnavailable))
		} else {
			out.Write(stream.Error(fmt.Sprintf("acquire account: %v", err), http.StatusServiceUnavailable))
		}
		return fmt.Errorf("acquire account: %w", err)
	}
	account := lease.Account
	defer func() {
		if err := b.pool.Release(context.WithoutCancel(ctx), lease); err != nil {
			b.logger.Warn("release account failed", "account", account.DisplayName(), "error", err)
		}
	}()

	logger := b.logger.With("account", account.DisplayName(), "kind", string(action.Kind))
	startedAt := time.Now()
	progress := &progressTracker{}

	result, err := session.RunInteraction(ctx, action, gateway.Handlers{
		OnStart: func(gateway.Message) {
			out.Write(stream.Message("> started\n\n"))
		},
		OnUpdate: func(m gateway.Message) {
			if percent, ok := progress.advance(m.Content); ok {
				out.Write(stream.Message(fmt.Sprintf("%d%% ", percent)))
			}
		},
	})
	if err != nil {
		logger.Warn("interaction failed", "error", err, "duration", time.Since(startedAt))
		out.Write(stream.Error(err.Error(), statusFor(err)))
		return fmt.Errorf("run interaction: %w", err)
	}

	logger.Info("interaction finished", "message_id", result.ID, "duration", time.Since(startedAt))
	if b.affinity != nil {
		if err := b.affinity.Record(context.WithoutCancel(ctx), result.ID, account); err != nil {
			logger.Warn("record affinity failed", "message_id", result.ID, "error", err)
		}
	}

	for _, chunk := range renderResult(action, account, result) {
		out.Write(stream.Message(chunk))
	}
	out.Write(stream.Done())
	return nil
}

// Ask plans an action from prompt and executes it on the same stream.
func (b *Broker[S]) Ask(ctx context.Context, prompt string, out stream.Writer) error {
	var terminal stream.Event
	through := stream.NewThrough(messagesOnly{out}, stream.OnTerminal(func(_ string, event stream.Event) {
		terminal = event
	}))

	if err := b.planner.Plan(ctx, prompt, through); err != nil {
		out.Write(stream.Error(fmt.Sprintf("plan action: %v", err), http.StatusBadGateway))
		return fmt.Errorf("plan action: %w", err)
	}
	if terminal.Kind == stream.KindError {
		out.Write(terminal)
		return fmt.Errorf("plan action: %s", terminal.Error)
	}

	out.Write(stream.Message("\n\n"))

	var action gateway.Action
	if err := stream.ExtractJSON(through.Text(), &action); err != nil || action.Validate() != nil {
		out.Write(stream.Message(msgGenerateFailed))
		out.Write(stream.Done())
		return nil
	}

	return b.Execute(ctx, action, out)
}

func (b *Broker[S]) acquire(ctx context.Context, action *gateway.Action) (pool.Lease, S, error) {
	if action.Kind != gateway.ActionComponent {
		return b.pool.Acquire(ctx)
	}

	var zero S
	if action.ReferenceID == "" {
		action.ReferenceID = action.MessageID
	}
	if action.ChannelID == "" && b.affinity != nil {
		channelID, err := b.affinity.ChannelFor(ctx, action.MessageID)
		if err != nil {
			return pool.Lease{}, zero, fmt.Errorf("resolve channel for message %s: %w", action.MessageID, err)
		}
		action.ChannelID = channelID
	}
	if action.ChannelID == "" {
		return pool.Lease{}, zero, fmt.Errorf("message %s: %w", action.MessageID, domain.ErrNoMatchingAccount)
	}

	channelID := action.ChannelID
	return b.pool.AcquireIf(func(a domain.Account) bool {
		return a.ChannelID == channelID
	})
}

type messagesOnly struct {
	next stream.Writer
}

func (m messagesOnly) Write(event stream.Event) bool {
	if event.Terminal() {
		return true
	}
	return m.next.Write(event)
}

type progressTracker struct {
	last int
}

// advance reports the progress in content when it moved forward.
func (p *progressTracker) advance(content string) (int, bool) {
	match := progressPattern.FindStringSubmatch(content)
	if match == nil {
		return 0, false
	}
	percent, err := strconv.Atoi(match[1])
	if err != nil || percent <= p.last || percent > 100 {
		return 0, false
	}
	p.last = percent
	return percent, true
}

func renderResult(action gateway.Action, account domain.Account, m gateway.Message) []string {
	var chunks []string

	if len(m.Attachments) > 0 {
		alt := action.Prompt
		if alt == "" {
			alt = m.Attachments[0].Filename
		}
		chunks = append(chunks, fmt.Sprintf("![%s](%s)\n\n", escapeMarkdown(alt), m.Attachments[0].URL))
	}

	chunks = append(chunks, fmt.Sprintf("> message_id: %s channel_id: %s\n\n", m.ID, account.ChannelID))

	buttons := m.Buttons()
	if len(buttons) > 0 {
		var table strings.Builder
		table.WriteString("|label|custom_id|\n|---|---|\n")
		for _, b := range buttons {
			fmt.Fprintf(&table, "|%s|%s|\n", escapeMarkdown(b.Label), b.CustomID)
		}
		chunks = append(chunks, table.String())
	}

	return chunks
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("|", "\\|", "[", "\\[", "]", "\\]", "\n", " ").Replace(s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInteractionTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrSend):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
