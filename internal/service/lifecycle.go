package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/domain/servicerequest"
	"github.com/taskerhub/marketplace/internal/domain/user"
	"github.com/taskerhub/marketplace/internal/infrastructure/observability"
)

// LifecycleService drives service requests through their state machine. Every transition
// loads the request under a row lock, applies the domain rule and writes it back with the
// optimistic version check in one transaction.
type LifecycleService struct {
	requests     servicerequest.Repository
	transactions payment.Repository
	users        user.Directory
	tm           TransactionManager
	notifier     *Notifier
	clock        Clock
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewLifecycleService(
	requests servicerequest.Repository,
	transactions payment.Repository,
	users user.Directory,
	tm TransactionManager,
	notifier *Notifier,
	clock Clock,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *LifecycleService {
	if clock == nil {
		clock = systemClock
	}
	return &LifecycleService{
		requests:     requests,
		transactions: transactions,
		users:        users,
		tm:           tm,
		notifier:     notifier,
		clock:        clock,
		logger:       logger.With().Str("component", "lifecycle").Logger(),
		metrics:      metrics,
	}
}

// CreateRequestInput holds the fields of a new service request.
type CreateRequestInput struct {
	Title       string
	Description string
	CategoryID  *uuid.UUID
	Budget      decimal.NullDecimal
}

// CreateRequest posts a new pending request owned by actorID.
func (s *LifecycleService) CreateRequest(ctx context.Context, actorID uuid.UUID, in CreateRequestInput) (*servicerequest.ServiceRequest, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role == user.RoleProvider {
		return nil, domainErrors.NewDomainError("unauthorized", "providers cannot post service requests", domainErrors.ErrUnauthorized)
	}

	sr, err := servicerequest.New(actorID, in.Title, in.Description, in.CategoryID, in.Budget, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.requests.Create(ctx, sr); err != nil {
		return nil, err
	}
	s.logger.Info().Str("request_id", sr.ID.String()).Str("user_id", actorID.String()).Msg("service request created")
	return sr, nil
}

// Get returns a request to one of its parties or an administrator.
func (s *LifecycleService) Get(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error) {
	sr, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, sr, actorID); err != nil {
		return nil, err
	}
	return sr, nil
}

// CompletionStatus reports which actions actorID may take on the request right now.
func (s *LifecycleService) CompletionStatus(ctx context.Context, actorID, requestID uuid.UUID) (servicerequest.CompletionStatus, error) {
	sr, err := s.Get(ctx, actorID, requestID)
	if err != nil {
		return servicerequest.CompletionStatus{}, err
	}
	return sr.CompletionStatusFor(actorID), nil
}

// ListTransactions returns the ledger entries of a request, oldest first.
func (s *LifecycleService) ListTransactions(ctx context.Context, actorID, requestID uuid.UUID) ([]*payment.Transaction, error) {
	if _, err := s.Get(ctx, actorID, requestID); err != nil {
		return nil, err
	}
	return s.transactions.ListByRequest(ctx, requestID)
}

// Accept assigns the calling provider. Only one Accept can win; the others see a conflict.
func (s *LifecycleService) Accept(ctx context.Context, actorID, requestID uuid.UUID, agreedPrice decimal.NullDecimal) (*servicerequest.ServiceRequest, error) {
	provider, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	sr, err := s.transition(ctx, servicerequest.EventAccept, requestID, func(txCtx context.Context, sr *servicerequest.ServiceRequest, now time.Time) error {
		if err := sr.Accept(provider, agreedPrice, now); err != nil {
			return err
		}
		return s.requests.CreateAssignment(txCtx, sr.Assignment)
	})
	if err != nil {
		if domainErrors.KindOf(err) == domainErrors.KindConflict {
			return nil, domainErrors.NewDomainError("conflict", "this request is no longer available", err)
		}
		return nil, err
	}

	s.notifier.Notify(ctx, sr.RequesterID, "Request accepted",
		"A provider accepted \""+sr.Title+"\".", NotifyRequestAccepted)
	return sr, nil
}

func (s *LifecycleService) MarkInProgress(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error) {
	sr, err := s.transition(ctx, servicerequest.EventMarkInProgress, requestID, func(_ context.Context, sr *servicerequest.ServiceRequest, now time.Time) error {
		return sr.MarkInProgress(actorID, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, sr.RequesterID, "Work started", "The provider started working on \""+sr.Title+"\".", NotifyRequestStarted)
	return sr, nil
}

func (s *LifecycleService) RequestCompletion(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error) {
	sr, err := s.transition(ctx, servicerequest.EventRequestCompletion, requestID, func(_ context.Context, sr *servicerequest.ServiceRequest, now time.Time) error {
		return sr.RequestCompletion(actorID, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, counterpart(sr, actorID), "Completion requested",
		"Please confirm that \""+sr.Title+"\" is complete.", NotifyCompletionRequested)
	return sr, nil
}

func (s *LifecycleService) ApproveCompletion(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error) {
	sr, err := s.transition(ctx, servicerequest.EventApproveCompletion, requestID, func(_ context.Context, sr *servicerequest.ServiceRequest, now time.Time) error {
		return sr.ApproveCompletion(actorID, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, counterpart(sr, actorID), "Request completed",
		"\""+sr.Title+"\" is now completed.", NotifyRequestCompleted)
	return sr, nil
}

func (s *LifecycleService) RejectCompletion(ctx context.Context, actorID, requestID uuid.UUID, reason string) (*servicerequest.ServiceRequest, error) {
	sr, err := s.transition(ctx, servicerequest.EventRejectCompletion, requestID, func(_ context.Context, sr *servicerequest.ServiceRequest, now time.Time) error {
		return sr.RejectCompletion(actorID, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, counterpart(sr, actorID), "Completion rejected",
		"Completion of \""+sr.Title+"\" was rejected: "+reason, NotifyCompletionRejected)
	return sr, nil
}

func (s *LifecycleService) MarkCompleted(ctx context.Context, actorID, requestID uuid.UUID) (*servicerequest.ServiceRequest, error) {
	sr, err := s.transition(ctx, servicerequest.EventMarkCompleted, requestID, func(_ context.Context, sr *servicerequest.ServiceRequest, now time.Time) error {
		return sr.MarkCompleted(actorID, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, counterpart(sr, actorID), "Request completed",
		"\""+sr.Title+"\" is now completed.", NotifyRequestCompleted)
	return sr, nil
}

func (s *LifecycleService) Cancel(ctx context.Context, actorID, requestID uuid.UUID, reason string) (*servicerequest.ServiceRequest, error) {
	sr, err := s.transition(ctx, servicerequest.EventCancel, requestID, func(_ context.Context, sr *servicerequest.ServiceRequest, now time.Time) error {
		return sr.Cancel(actorID, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, counterpart(sr, actorID), "Request cancelled",
		"\""+sr.Title+"\" was cancelled.", NotifyRequestCancelled)
	return sr, nil
}

// transition runs apply against the locked request and persists the result.
func (s *LifecycleService) transition(
	ctx context.Context,
	event servicerequest.Event,
	requestID uuid.UUID,
	apply func(txCtx context.Context, sr *servicerequest.ServiceRequest, now time.Time) error,
) (*servicerequest.ServiceRequest, error) {
	var out *servicerequest.ServiceRequest
	var from servicerequest.Status
	err := s.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		sr, err := s.requests.GetForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}
		from = sr.Status
		if err := apply(txCtx, sr, s.clock()); err != nil {
			return err
		}
		if err := s.requests.Update(txCtx, sr); err != nil {
			return err
		}
		out = sr
		return nil
	})
	if err != nil {
		s.metrics.RecordTransition(string(event), string(domainErrors.KindOf(err)))
		s.logger.Debug().Err(err).
			Str("request_id", requestID.String()).
			Str("event", string(event)).
			Msg("transition rejected")
		return nil, err
	}

	s.metrics.RecordTransition(string(event), "ok")
	s.logger.Info().
		Str("request_id", requestID.String()).
		Str("event", string(event)).
		Str("from", string(from)).
		Str("to", string(out.Status)).
		Msg("request transitioned")
	return out, nil
}

func (s *LifecycleService) authorizeView(ctx context.Context, sr *servicerequest.ServiceRequest, actorID uuid.UUID) error {
	if sr.PartyOf(actorID) != servicerequest.PartyNone {
		return nil
	}
	actor, err := s.users.GetUser(ctx, actorID)
	if err == nil && actor.IsAdmin() {
		return nil
	}
	return domainErrors.NewDomainError("unauthorized", "you are not a party to this request", domainErrors.ErrUnauthorized)
}

// actor resolves the calling user. An unknown caller is unauthorized rather than not found.
func (s *LifecycleService) actor(ctx context.Context, actorID uuid.UUID) (*user.User, error) {
	u, err := s.users.GetUser(ctx, actorID)
	if errors.Is(err, domainErrors.ErrUserNotFound) {
		return nil, domainErrors.NewDomainError("unauthorized", "unknown user", domainErrors.ErrUnauthorized)
	}
	return u, err
}

// counterpart returns the other party of the request, or uuid.Nil when there is none.
func counterpart(sr *servicerequest.ServiceRequest, actorID uuid.UUID) uuid.UUID {
	if actorID == sr.RequesterID {
		if sr.ProviderID != nil {
			return *sr.ProviderID
		}
		return uuid.Nil
	}
	return sr.RequesterID
}
