package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/utils"
)

func TestReportIncident(t *testing.T) {
	f := newFixture(t, jan8Morning, nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	inc, err := f.svc.Incidents.ReportIncident(f.ctx, IncidentReport{
		RentalID:     r.ID,
		IncidentType: domain.IncidentTypeTowing,
		Description:  "flat on the highway",
		Amount:       utils.Money("120.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusReported, inc.Status)
	assert.Equal(t, f.customer.ID, inc.CustomerID)
	assert.Equal(t, utils.Date(2025, 1, 8), inc.IncidentDate)
}

func TestReportIncident_Rejects(t *testing.T) {
	f := newFixture(t, jan8Morning, nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	tests := []struct {
		name    string
		report  IncidentReport
		wantErr error
	}{
		{
			name:   "unknown type",
			report: IncidentReport{RentalID: r.ID, IncidentType: "meteor", Amount: utils.Money("10")},
		},
		{
			name:    "zero amount",
			report:  IncidentReport{RentalID: r.ID, IncidentType: domain.IncidentTypeFuel, Amount: utils.Money("0")},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "missing rental",
			report:  IncidentReport{RentalID: 9999, IncidentType: domain.IncidentTypeFuel, Amount: utils.Money("10")},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Incidents.ReportIncident(f.ctx, tt.report)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestIncidentReviewFlow(t *testing.T) {
	f := newFixture(t, jan8Morning, nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))
	inc, err := f.svc.Incidents.ReportIncident(f.ctx, IncidentReport{
		RentalID: r.ID, IncidentType: domain.IncidentTypeDamage, Amount: utils.Money("300.00"),
	})
	require.NoError(t, err)

	reviewed, err := f.svc.Incidents.ReviewIncident(f.ctx, inc.ID, "waiting for photos")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusUnderReview, reviewed.Status)
	assert.Nil(t, reviewed.ProcessedAt)

	dismissed, err := f.svc.Incidents.DismissIncident(f.ctx, inc.ID, "pre-existing damage")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusDismissed, dismissed.Status)
	assert.Equal(t, "pre-existing damage", dismissed.AdminNotes)
	require.NotNil(t, dismissed.ProcessedAt)

	_, err = f.svc.Incidents.ApproveIncident(f.ctx, inc.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
