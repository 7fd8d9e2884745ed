package service

import (
	"context"
	"fmt"
	"time"

	"slotter/internal/config"
	"slotter/internal/domain"

	"github.com/rs/zerolog"
)

// Validation failure reasons, returned verbatim to the presentation layer.
const (
	ReasonPastDate      = "requested date is in the past"
	ReasonLeadTime      = "booking must start at least %s from now"
	ReasonOutsideDuty   = "requested time is outside the provider's working hours (%s)"
	ReasonSlotTaken     = "the provider is already booked for that time"
	ReasonProviderIdle  = "provider is not active"
	ReasonNoSuchProvide = "unknown provider"
)

// Validator answers "can this booking time be requested at all". Failures
// are reasons, not errors: an error return means the check itself could not
// run (storage down), never that the time was rejected.
type Validator struct {
	repo      domain.Repository
	providers domain.ProviderDirectory
	cfg       config.SchedulingConfig
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewValidator(repo domain.Repository, providers domain.ProviderDirectory, cfg config.SchedulingConfig, logger *zerolog.Logger) *Validator {
	return &Validator{
		repo:      repo,
		providers: providers,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ValidateBookingTime runs the scheduling checks in order and returns the
// first failing reason. end is optional; without it, only the start instant
// is checked against existing slots.
func (v *Validator) ValidateBookingTime(ctx context.Context, providerID int64, start time.Time, end *time.Time) (bool, string, error) {
	now := v.now()
	start = start.UTC()

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if start.Before(today) {
		return false, ReasonPastDate, nil
	}

	if start.Before(now.Add(v.cfg.MinLead())) {
		return false, fmt.Sprintf(ReasonLeadTime, v.cfg.MinLead()), nil
	}

	if ok, reason := v.withinDutyHours(providerID, start, end); !ok {
		return false, reason, nil
	}

	if end != nil {
		overlap, err := v.repo.HasOverlap(ctx, providerID, start, end.UTC(), 0)
		if err != nil {
			return false, "", err
		}
		if overlap {
			return false, ReasonSlotTaken, nil
		}
	} else {
		covered, err := v.repo.CoversInstant(ctx, providerID, start)
		if err != nil {
			return false, "", err
		}
		if covered {
			return false, ReasonSlotTaken, nil
		}
	}

	return true, "", nil
}

func (v *Validator) withinDutyHours(providerID int64, start time.Time, end *time.Time) (bool, string) {
	provider, err := v.providers.GetProvider(providerID)
	if err != nil {
		return false, ReasonNoSuchProvide
	}
	if !provider.IsActive {
		return false, ReasonProviderIdle
	}

	duty, ok := ParseDutyHours(provider.WorkingHours)
	if !ok {
		// Unparseable or empty duty hours degrade to always-available.
		if provider.WorkingHours != "" {
			v.logger.Warn().Int64("provider_id", providerID).Str("working_hours", provider.WorkingHours).
				Msg("unparseable working hours, treating provider as always available")
		}
		return true, ""
	}

	dutyStart, dutyEnd := duty.Window(start)
	if end != nil {
		if start.Before(dutyStart) || end.UTC().After(dutyEnd) {
			return false, fmt.Sprintf(ReasonOutsideDuty, provider.WorkingHours)
		}
		return true, ""
	}
	if start.Before(dutyStart) || !start.Before(dutyEnd) {
		return false, fmt.Sprintf(ReasonOutsideDuty, provider.WorkingHours)
	}
	return true, ""
}
