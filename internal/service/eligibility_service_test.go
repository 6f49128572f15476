package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
)

type availabilityStub struct {
	available []models.EligibleVolunteer
	total     int
	err       error
}

func (s availabilityStub) FindAvailable(ctx context.Context) ([]models.EligibleVolunteer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.available, nil
}

func (s availabilityStub) CountProfiles(ctx context.Context) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.total, nil
}

func TestResolveReturnsAvailableVolunteers(t *testing.T) {
	svc := NewEligibilityService(
		dispatchCrisisStub{crisis: openCrisis()},
		availabilityStub{available: eligibleVolunteers(2), total: 5},
		nil,
	)

	eligible, err := svc.Resolve(context.Background(), "crisis-1")
	require.NoError(t, err)
	require.Len(t, eligible, 2)
}

func TestResolveEmptySetIsNotAnError(t *testing.T) {
	svc := NewEligibilityService(
		dispatchCrisisStub{crisis: openCrisis()},
		availabilityStub{total: 3},
		nil,
	)

	eligible, err := svc.Resolve(context.Background(), "crisis-1")
	require.NoError(t, err)
	require.Empty(t, eligible)
}

func TestResolveUnknownCrisis(t *testing.T) {
	svc := NewEligibilityService(
		dispatchCrisisStub{err: sql.ErrNoRows},
		availabilityStub{},
		nil,
	)

	_, err := svc.Resolve(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestResolveWrapsStoreFailure(t *testing.T) {
	svc := NewEligibilityService(
		dispatchCrisisStub{crisis: openCrisis()},
		availabilityStub{err: errors.New("connection refused")},
		nil,
	)

	_, err := svc.Resolve(context.Background(), "crisis-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrDependency.Code, appErrors.FromError(err).Code)
}

func TestTotalRegisteredCountsAllProfiles(t *testing.T) {
	svc := NewEligibilityService(
		dispatchCrisisStub{crisis: openCrisis()},
		availabilityStub{total: 7},
		nil,
	)

	total, err := svc.TotalRegistered(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, total)
}
