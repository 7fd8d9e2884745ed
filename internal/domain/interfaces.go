package domain

import (
	"context"
	"time"

	"slotter/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Repository is the persistence surface the services depend on. The sqlite
// implementation lives in internal/database.
type Repository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetPendingByProvider(ctx context.Context, providerID int64) ([]*models.Booking, error)
	GetStalePendingBookings(ctx context.Context, before time.Time) ([]*models.Booking, error)
	CountAutoCancelledForService(ctx context.Context, serviceID int64, since time.Time) (int, error)

	TransitionStatus(ctx context.Context, bookingID int64, to string, from []string) error
	AcceptBookingWithSlot(ctx context.Context, bookingID int64, from []string, price float64, notes string, start, end time.Time) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64, from []string, actor, reason string) error
	MarkPaymentReceived(ctx context.Context, bookingID int64, from []string, meta models.PaymentMeta) error
	MarkJobDone(ctx context.Context, bookingID int64, from []string) error
	CompleteBooking(ctx context.Context, bookingID int64, from []string) error
	ForceBookingStatus(ctx context.Context, bookingID int64, status string) error
	SetBookingProposal(ctx context.Context, bookingID int64, proposedBy string, start time.Time, end *time.Time, price *float64, notes string) error

	HasOverlap(ctx context.Context, providerID int64, start, end time.Time, excludeBookingID int64) (bool, error)
	Overlapping(ctx context.Context, providerID int64, start, end time.Time) ([]*models.TimeSlot, error)
	CoversInstant(ctx context.Context, providerID int64, at time.Time) (bool, error)
	DeactivateSlotsByBooking(ctx context.Context, bookingID int64) error
	GetSlotsByBooking(ctx context.Context, bookingID int64) ([]*models.TimeSlot, error)

	CreateProposal(ctx context.Context, proposal *models.RescheduleProposal) error
	GetProposal(ctx context.Context, id int64) (*models.RescheduleProposal, error)
	GetPendingProposals(ctx context.Context, bookingID int64) ([]*models.RescheduleProposal, error)
	AcceptProposalWithSlot(ctx context.Context, proposalID int64, responseMessage string, from []string, price float64, notes string, start, end time.Time) (*models.RescheduleProposal, *models.Booking, error)
	RejectProposal(ctx context.Context, proposalID int64, responseMessage string) error
	ExpirePendingProposals(ctx context.Context, bookingID, exceptID int64) (int64, error)

	CreateServiceBlock(ctx context.Context, block *models.ServiceBlock) error
	IsServiceBlocked(ctx context.Context, serviceID int64) (bool, error)
	GetActiveBlock(ctx context.Context, serviceID int64) (*models.ServiceBlock, error)
	GetExpiredActiveBlocks(ctx context.Context, now time.Time) ([]*models.ServiceBlock, error)
	DeactivateBlock(ctx context.Context, blockID int64) error
	DeactivateBlocksForService(ctx context.Context, serviceID int64) error
}

// ProviderDirectory resolves providers and their duty hours. Backed by
// config in this deployment.
type ProviderDirectory interface {
	GetProvider(id int64) (*models.Provider, error)
	ActiveProviders() []*models.Provider
}

// BlockCache fronts the service-block lookups so the hot path does not hit
// sqlite on every booking attempt. Implementations must fail open: a cache
// error means "ask the repository".
type BlockCache interface {
	GetBlocked(ctx context.Context, serviceID int64) (blocked, found bool, err error)
	SetBlocked(ctx context.Context, serviceID int64, blocked bool, ttl time.Duration) error
	Invalidate(ctx context.Context, serviceID int64) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier delivers lifecycle notifications to the affected parties.
// Implementations must not block the caller.
type Notifier interface {
	NotifyUser(userID int64, text string)
	NotifyProvider(providerID int64, text string)
}

// TelegramSender is the subset of the bot API client the telegram notifier
// needs. Satisfied by *tgbotapi.BotAPI.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
