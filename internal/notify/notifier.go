package notify

import (
	"context"
	"time"

	"slotter/internal/domain"
	"slotter/internal/worker"

	"github.com/rs/zerolog"
)

type notification struct {
	chatID int64
	text   string
}

// Dispatcher is the fire-and-forget notification pipeline: callers enqueue
// and return immediately, a single worker drains the queue and retries
// transient send failures with backoff. A full queue drops the message
// rather than blocking a core operation.
type Dispatcher struct {
	sender    Sender
	providers domain.ProviderDirectory
	queue     chan notification
	retry     worker.RetryPolicy
	logger    *zerolog.Logger
}

// Sender delivers one message to one chat.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

func NewDispatcher(sender Sender, providers domain.ProviderDirectory, queueSize int, retry worker.RetryPolicy, logger *zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		sender:    sender,
		providers: providers,
		queue:     make(chan notification, queueSize),
		retry:     retry,
		logger:    logger,
	}
}

// NotifyUser enqueues a message for a user. User ids double as chat ids.
func (d *Dispatcher) NotifyUser(userID int64, text string) {
	d.enqueue(notification{chatID: userID, text: text})
}

// NotifyProvider enqueues a message for a provider's registered chat.
// Providers without a chat id are skipped.
func (d *Dispatcher) NotifyProvider(providerID int64, text string) {
	provider, err := d.providers.GetProvider(providerID)
	if err != nil {
		d.logger.Warn().Int64("provider_id", providerID).Msg("notification for unknown provider dropped")
		return
	}
	if provider.ChatID == 0 {
		return
	}
	d.enqueue(notification{chatID: provider.ChatID, text: text})
}

func (d *Dispatcher) enqueue(n notification) {
	select {
	case d.queue <- n:
	default:
		d.logger.Warn().Int64("chat_id", n.chatID).Msg("notification queue full, message dropped")
	}
}

// Run drains the queue until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().Msg("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("notification dispatcher stopped")
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n notification) {
	maxAttempts := d.retry.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.sender.SendMessage(n.chatID, n.text)
		if err == nil {
			return
		}
		d.logger.Warn().Err(err).Int64("chat_id", n.chatID).Int("attempt", attempt).Msg("notification send failed")

		if attempt == maxAttempts {
			d.logger.Error().Int64("chat_id", n.chatID).Msg("notification dropped after retries")
			return
		}

		timer := time.NewTimer(d.retry.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
