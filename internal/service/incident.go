package service

import (
	"context"
	"fmt"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/utils"
)

type incidentService struct {
	deps *Dependencies
}

func NewIncidentService(deps *Dependencies) IncidentService {
	return &incidentService{deps: deps}
}

func (s *incidentService) ReportIncident(ctx context.Context, report IncidentReport) (*domain.Incident, error) {
	logger.EnterMethod("incidentService.ReportIncident", "rentalID", report.RentalID, "type", report.IncidentType)

	if !report.IncidentType.Valid() {
		return nil, fmt.Errorf("unknown incident type %q", report.IncidentType)
	}
	if !report.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: incident amount %s", domain.ErrInvalidAmount, report.Amount)
	}

	rental, err := s.deps.Repos.Rentals.GetByID(ctx, report.RentalID)
	if err != nil {
		logger.ExitMethodWithError("incidentService.ReportIncident", err)
		return nil, err
	}
	if rental.Status == domain.RentalStatusCancelled {
		return nil, fmt.Errorf("%w: rental %d is cancelled", domain.ErrInvalidTransition, rental.ID)
	}

	date := report.IncidentDate
	if date.IsZero() {
		date = s.deps.today()
	}
	incident := &domain.Incident{
		RentalID:     rental.ID,
		CustomerID:   rental.CustomerID,
		IncidentType: report.IncidentType,
		Description:  report.Description,
		IncidentDate: utils.TruncateDay(date),
		Amount:       report.Amount,
		Status:       domain.IncidentStatusReported,
	}
	if err := s.deps.Repos.Incidents.Create(ctx, incident); err != nil {
		logger.ExitMethodWithError("incidentService.ReportIncident", err)
		return nil, err
	}

	logger.ExitMethod("incidentService.ReportIncident", "incidentID", incident.ID, "rapCovered", incident.IncidentType.RapCovered())
	return incident, nil
}

func (s *incidentService) ReviewIncident(ctx context.Context, incidentID int32, notes string) (*domain.Incident, error) {
	return s.move(ctx, incidentID, domain.IncidentStatusUnderReview, notes)
}

// ApproveIncident makes the incident billable in the period containing its date
func (s *incidentService) ApproveIncident(ctx context.Context, incidentID int32, notes string) (*domain.Incident, error) {
	return s.move(ctx, incidentID, domain.IncidentStatusApproved, notes)
}

func (s *incidentService) DismissIncident(ctx context.Context, incidentID int32, notes string) (*domain.Incident, error) {
	return s.move(ctx, incidentID, domain.IncidentStatusDismissed, notes)
}

func (s *incidentService) move(ctx context.Context, incidentID int32, next domain.IncidentStatus, notes string) (*domain.Incident, error) {
	logger.EnterMethod("incidentService.move", "incidentID", incidentID, "next", next)

	var incident *domain.Incident
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		incident, err = s.deps.Repos.Incidents.GetByID(ctx, incidentID)
		if err != nil {
			return err
		}
		if err := incident.TransitionTo(next); err != nil {
			return err
		}
		if notes != "" {
			incident.AdminNotes = notes
		}
		if next == domain.IncidentStatusApproved || next == domain.IncidentStatusDismissed {
			now := s.deps.now()
			incident.ProcessedAt = &now
		}
		return s.deps.Repos.Incidents.Update(ctx, incident)
	})
	if err != nil {
		logger.ExitMethodWithError("incidentService.move", err)
		return nil, err
	}

	logger.ExitMethod("incidentService.move", "status", incident.Status)
	return incident, nil
}
