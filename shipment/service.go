package shipment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"shipflow/apperr"
	"shipflow/catalog"
	"shipflow/quote"
)

// StatusCatalog is the read access the service needs on the status catalog.
type StatusCatalog interface {
	StatusByID(ctx context.Context, id int64) (catalog.Status, error)
}

// Quoter prices a package profile. Satisfied by quote.Engine.
type Quoter interface {
	Quote(ctx context.Context, req quote.Request) (quote.Result, error)
}

// Service handles shipment booking, tracking reads, and status transitions.
type Service struct {
	repo        Repository
	statuses    StatusCatalog
	quoter      Quoter
	idGenerator func() string
}

// NewService wires a shipment service.
func NewService(repo Repository, statuses StatusCatalog, quoter Quoter) *Service {
	return &Service{
		repo:        repo,
		statuses:    statuses,
		quoter:      quoter,
		idGenerator: func() string { return uuid.NewString() },
	}
}

// WithIDGenerator overrides id generation, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Create prices the package through the quote engine and books the shipment.
// Quote failures (unknown city, same city, no rate) propagate typed.
func (s *Service) Create(ctx context.Context, userID string, params CreateParams) (Shipment, error) {
	if userID == "" {
		return Shipment{}, fmt.Errorf("shipment: missing user id")
	}

	result, err := s.quoter.Quote(ctx, quote.Request{
		OriginCityID:      params.OriginCityID,
		DestinationCityID: params.DestinationCityID,
		PackageWeightKg:   params.PackageWeightKg,
		PackageLengthCm:   params.PackageLengthCm,
		PackageWidthCm:    params.PackageWidthCm,
		PackageHeightCm:   params.PackageHeightCm,
	})
	if err != nil {
		return Shipment{}, err
	}

	id := s.idGenerator()
	created, err := s.repo.Create(ctx, Shipment{
		ID:                 id,
		TrackingCode:       trackingCode(id),
		UserID:             userID,
		OriginCityID:       params.OriginCityID,
		DestinationCityID:  params.DestinationCityID,
		PackageWeightKg:    params.PackageWeightKg,
		PackageLengthCm:    params.PackageLengthCm,
		PackageWidthCm:     params.PackageWidthCm,
		PackageHeightCm:    params.PackageHeightCm,
		CalculatedWeightKg: result.CalculatedWeightKg,
		QuotedValue:        result.QuotedValue,
		CurrentStatusID:    StatusCreated,
	})
	if err != nil {
		return Shipment{}, apperr.Infrastructure("shipment: create", err)
	}

	return created, nil
}

// ListByUser returns the caller's shipments.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Shipment, error) {
	shipments, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Infrastructure("shipment: list", err)
	}
	return shipments, nil
}

// Track returns a shipment and its history after the ownership check. The
// same check gates realtime tracking subscriptions.
func (s *Service) Track(ctx context.Context, shipmentID, userID string) (TrackingDetails, error) {
	sh, err := s.Authorize(ctx, shipmentID, userID)
	if err != nil {
		return TrackingDetails{}, err
	}

	history, err := s.repo.HistoryByShipmentID(ctx, shipmentID)
	if err != nil {
		return TrackingDetails{}, apperr.Infrastructure("shipment: load history", err)
	}

	return TrackingDetails{Shipment: sh, History: history}, nil
}

// Authorize fetches the shipment and verifies userID owns it.
func (s *Service) Authorize(ctx context.Context, shipmentID, userID string) (Shipment, error) {
	sh, err := s.repo.ByID(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Shipment{}, apperr.NotFound(apperr.CodeShipmentNotFound, fmt.Sprintf("shipment %s not found", shipmentID))
		}
		return Shipment{}, apperr.Infrastructure("shipment: load", err)
	}
	if sh.UserID != userID {
		return Shipment{}, apperr.Authorization(apperr.CodeNotOwner, "shipment belongs to another user")
	}
	return sh, nil
}

// UpdateStatus applies a status transition. Transitioning to the current
// status is a no-op: no history row, no store write, no notification.
func (s *Service) UpdateStatus(ctx context.Context, shipmentID string, statusID int64) error {
	sh, err := s.repo.ByID(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound(apperr.CodeShipmentNotFound, fmt.Sprintf("shipment %s not found", shipmentID))
		}
		return apperr.Infrastructure("shipment: load for transition", err)
	}

	if _, err := s.statuses.StatusByID(ctx, statusID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return apperr.NotFound(apperr.CodeStatusNotFound, fmt.Sprintf("status %d not found", statusID))
		}
		return apperr.Infrastructure("shipment: load status", err)
	}

	if sh.CurrentStatusID == statusID {
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, shipmentID, statusID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound(apperr.CodeShipmentNotFound, fmt.Sprintf("shipment %s not found", shipmentID))
		}
		return apperr.Infrastructure("shipment: apply transition", err)
	}

	return nil
}

// trackingCode derives the customer-facing code from the shipment id.
func trackingCode(id string) string {
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(compact) > 12 {
		compact = compact[:12]
	}
	return "SF-" + compact
}
