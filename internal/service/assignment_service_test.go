package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/notify"
)

type memResponseStore struct {
	mu        sync.Mutex
	responses map[string]*models.Response
}

func newMemResponseStore(seed ...*models.Response) *memResponseStore {
	store := &memResponseStore{responses: map[string]*models.Response{}}
	for _, resp := range seed {
		clone := *resp
		store.responses[resp.ID] = &clone
	}
	return store
}

func (s *memResponseStore) FindByID(ctx context.Context, id string) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *resp
	return &clone, nil
}

func (s *memResponseStore) MarkAccepted(ctx context.Context, id string, expected models.ResponseStatus, at time.Time) (*models.Response, error) {
	return s.guardedUpdate(id, expected, func(resp *models.Response) {
		resp.Status = models.ResponseStatusAccepted
		resp.AcceptedAt = &at
	})
}

func (s *memResponseStore) MarkCompleted(ctx context.Context, id string, expected models.ResponseStatus, at time.Time) (*models.Response, error) {
	return s.guardedUpdate(id, expected, func(resp *models.Response) {
		resp.Status = models.ResponseStatusCompleted
		resp.CompletedAt = &at
	})
}

func (s *memResponseStore) MarkFailed(ctx context.Context, id string, expected models.ResponseStatus, reason string) (*models.Response, error) {
	return s.guardedUpdate(id, expected, func(resp *models.Response) {
		resp.Status = models.ResponseStatusFailed
		resp.FailedReason = &reason
		resp.AcceptedAt = nil
		resp.CompletedAt = nil
	})
}

func (s *memResponseStore) UpsertAccepted(ctx context.Context, crisisID, volunteerID string, at time.Time) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, resp := range s.responses {
		if resp.CrisisID == crisisID && resp.VolunteerID == volunteerID {
			resp.Status = models.ResponseStatusAccepted
			resp.AcceptedAt = &at
			resp.CompletedAt = nil
			resp.FailedReason = nil
			clone := *resp
			return &clone, nil
		}
	}
	resp := &models.Response{
		ID:          "resp-" + crisisID + "-" + volunteerID,
		CrisisID:    crisisID,
		VolunteerID: volunteerID,
		Status:      models.ResponseStatusAccepted,
		AcceptedAt:  &at,
		CreatedAt:   at,
	}
	s.responses[resp.ID] = resp
	clone := *resp
	return &clone, nil
}

func (s *memResponseStore) guardedUpdate(id string, expected models.ResponseStatus, mutate func(*models.Response)) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[id]
	if !ok || resp.Status != expected {
		return nil, sql.ErrNoRows
	}
	mutate(resp)
	clone := *resp
	return &clone, nil
}

type counterStub struct {
	completed []string
	failed    []string
}

func (c *counterStub) IncrementCompleted(ctx context.Context, userID string) error {
	c.completed = append(c.completed, userID)
	return nil
}

func (c *counterStub) IncrementFailed(ctx context.Context, userID string) error {
	c.failed = append(c.failed, userID)
	return nil
}

type userReaderStub struct {
	users map[string]*models.User
}

func (s userReaderStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

type crisisAssignerStub struct {
	crisis    *models.Crisis
	assignErr error
}

func (s *crisisAssignerStub) FindByID(ctx context.Context, id string) (*models.Crisis, error) {
	if s.crisis == nil {
		return nil, sql.ErrNoRows
	}
	clone := *s.crisis
	return &clone, nil
}

func (s *crisisAssignerStub) Assign(ctx context.Context, id, volunteerID string, allowed []models.CrisisStatus) (*models.Crisis, error) {
	if s.assignErr != nil {
		return nil, s.assignErr
	}
	clone := *s.crisis
	clone.Status = models.CrisisStatusAssigned
	clone.AssignedVolunteerID = &volunteerID
	return &clone, nil
}

type sinkStub struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (s *sinkStub) Publish(userID, event string, payload notify.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, notify.Message{UserID: userID, Event: event, Payload: payload})
}

func (s *sinkStub) byEvent(event string) []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Message
	for _, msg := range s.messages {
		if msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

func civilianPtr() *string {
	civ := "civ-1"
	return &civ
}

func notifiedResponse() *models.Response {
	return &models.Response{
		ID:                  "resp-1",
		CrisisID:            "crisis-1",
		VolunteerID:         "vol-1",
		CivilianRequesterID: civilianPtr(),
		Status:              models.ResponseStatusNotified,
		CreatedAt:           time.Now().UTC(),
	}
}

func newAssignmentServiceForTest(store *memResponseStore, counters *counterStub, users userReaderStub, crises *crisisAssignerStub, sink *sinkStub) *AssignmentService {
	return NewAssignmentService(store, counters, users, crises, sink, nil, nil, nil)
}

func TestAcceptTransitionsNotifiedResponse(t *testing.T) {
	store := newMemResponseStore(notifiedResponse())
	sink := &sinkStub{}
	svc := newAssignmentServiceForTest(store, &counterStub{}, userReaderStub{}, &crisisAssignerStub{}, sink)

	updated, err := svc.Accept(context.Background(), "resp-1", "vol-1")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusAccepted, updated.Status)
	require.NotNil(t, updated.AcceptedAt)

	require.Len(t, sink.byEvent(notify.EventVolunteerAccepted), 1)
	require.Equal(t, "civ-1", sink.byEvent(notify.EventVolunteerAccepted)[0].UserID)
	require.Len(t, sink.byEvent(notify.EventAssignmentUpdate), 1)
}

func TestAcceptRejectsForeignVolunteer(t *testing.T) {
	store := newMemResponseStore(notifiedResponse())
	svc := newAssignmentServiceForTest(store, &counterStub{}, userReaderStub{}, &crisisAssignerStub{}, &sinkStub{})

	_, err := svc.Accept(context.Background(), "resp-1", "vol-2")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAcceptRejectsAlreadyAccepted(t *testing.T) {
	resp := notifiedResponse()
	resp.Status = models.ResponseStatusAccepted
	store := newMemResponseStore(resp)
	svc := newAssignmentServiceForTest(store, &counterStub{}, userReaderStub{}, &crisisAssignerStub{}, &sinkStub{})

	_, err := svc.Accept(context.Background(), "resp-1", "vol-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestAcceptUnknownResponse(t *testing.T) {
	svc := newAssignmentServiceForTest(newMemResponseStore(), &counterStub{}, userReaderStub{}, &crisisAssignerStub{}, &sinkStub{})

	_, err := svc.Accept(context.Background(), "missing", "vol-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCompleteIncrementsCounterAndPromptsRating(t *testing.T) {
	resp := notifiedResponse()
	resp.Status = models.ResponseStatusEnRoute
	store := newMemResponseStore(resp)
	counters := &counterStub{}
	sink := &sinkStub{}
	svc := newAssignmentServiceForTest(store, counters, userReaderStub{}, &crisisAssignerStub{}, sink)

	updated, err := svc.Complete(context.Background(), "resp-1", "vol-1")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	require.Equal(t, []string{"vol-1"}, counters.completed)
	require.Len(t, sink.byEvent(notify.EventTaskCompleted), 1)
}

func TestCompleteRejectsNotifiedStatus(t *testing.T) {
	store := newMemResponseStore(notifiedResponse())
	counters := &counterStub{}
	svc := newAssignmentServiceForTest(store, counters, userReaderStub{}, &crisisAssignerStub{}, &sinkStub{})

	_, err := svc.Complete(context.Background(), "resp-1", "vol-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	require.Empty(t, counters.completed)
}

func TestFailRequiresReason(t *testing.T) {
	store := newMemResponseStore(notifiedResponse())
	svc := newAssignmentServiceForTest(store, &counterStub{}, userReaderStub{}, &crisisAssignerStub{}, &sinkStub{})

	_, err := svc.Fail(context.Background(), "resp-1", "vol-1", FailAssignmentRequest{Reason: "   "})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestFailFromNotifiedIsRejection(t *testing.T) {
	store := newMemResponseStore(notifiedResponse())
	counters := &counterStub{}
	sink := &sinkStub{}
	svc := newAssignmentServiceForTest(store, counters, userReaderStub{}, &crisisAssignerStub{}, sink)

	updated, err := svc.Fail(context.Background(), "resp-1", "vol-1", FailAssignmentRequest{Reason: "cannot reach the area"})
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusFailed, updated.Status)
	require.Equal(t, "cannot reach the area", *updated.FailedReason)
	require.Nil(t, updated.AcceptedAt)
	require.Nil(t, updated.CompletedAt)
	require.Equal(t, []string{"vol-1"}, counters.failed)

	civMsgs := sink.byEvent(notify.EventTaskFailed)
	require.Len(t, civMsgs, 1)
	require.Equal(t, true, civMsgs[0].Payload["rejected"])
}

func TestFailMidTaskClearsAcceptedAt(t *testing.T) {
	resp := notifiedResponse()
	resp.Status = models.ResponseStatusArrived
	now := time.Now().UTC()
	resp.AcceptedAt = &now
	store := newMemResponseStore(resp)
	sink := &sinkStub{}
	svc := newAssignmentServiceForTest(store, &counterStub{}, userReaderStub{}, &crisisAssignerStub{}, sink)

	updated, err := svc.Fail(context.Background(), "resp-1", "vol-1", FailAssignmentRequest{Reason: "injured on site"})
	require.NoError(t, err)
	require.Nil(t, updated.AcceptedAt)

	civMsgs := sink.byEvent(notify.EventTaskFailed)
	require.Len(t, civMsgs, 1)
	require.Equal(t, false, civMsgs[0].Payload["rejected"])
}

func TestFailRejectsCompletedResponse(t *testing.T) {
	resp := notifiedResponse()
	resp.Status = models.ResponseStatusCompleted
	store := newMemResponseStore(resp)
	svc := newAssignmentServiceForTest(store, &counterStub{}, userReaderStub{}, &crisisAssignerStub{}, &sinkStub{})

	_, err := svc.Fail(context.Background(), "resp-1", "vol-1", FailAssignmentRequest{Reason: "too late"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestAdminAssignMovesCrisisAndNotifies(t *testing.T) {
	previous := "vol-0"
	crises := &crisisAssignerStub{crisis: &models.Crisis{
		ID:                  "crisis-1",
		DisasterType:        "earthquake",
		Status:              models.CrisisStatusAssigned,
		AssignedVolunteerID: &previous,
	}}
	users := userReaderStub{users: map[string]*models.User{
		"vol-1": {ID: "vol-1", FullName: "Dina", Role: models.RoleVolunteer},
	}}
	store := newMemResponseStore()
	sink := &sinkStub{}
	svc := newAssignmentServiceForTest(store, &counterStub{}, users, crises, sink)

	result, err := svc.AdminAssign(context.Background(), "crisis-1", "vol-1")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusAccepted, result.Response.Status)
	require.NotNil(t, result.Response.AcceptedAt)
	require.Equal(t, models.CrisisStatusAssigned, result.Crisis.Status)
	require.Equal(t, "vol-1", *result.Crisis.AssignedVolunteerID)

	reassigned := sink.byEvent(notify.EventAssignmentReassigned)
	require.Len(t, reassigned, 1)
	require.Equal(t, "vol-0", reassigned[0].UserID)
	assigned := sink.byEvent(notify.EventAssignmentNotification)
	require.Len(t, assigned, 1)
	require.Equal(t, "vol-1", assigned[0].UserID)
}

func TestAdminAssignRevivesFailedResponse(t *testing.T) {
	failedReason := "unreachable"
	store := newMemResponseStore(&models.Response{
		ID:           "resp-1",
		CrisisID:     "crisis-1",
		VolunteerID:  "vol-1",
		Status:       models.ResponseStatusFailed,
		FailedReason: &failedReason,
	})
	crises := &crisisAssignerStub{crisis: &models.Crisis{
		ID:           "crisis-1",
		DisasterType: "flood",
		Status:       models.CrisisStatusVerified,
	}}
	users := userReaderStub{users: map[string]*models.User{
		"vol-1": {ID: "vol-1", FullName: "Dina", Role: models.RoleVolunteer},
	}}
	svc := newAssignmentServiceForTest(store, &counterStub{}, users, crises, &sinkStub{})

	result, err := svc.AdminAssign(context.Background(), "crisis-1", "vol-1")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusAccepted, result.Response.Status)
	require.Nil(t, result.Response.FailedReason)
}

func TestAdminAssignRejectsNonVolunteer(t *testing.T) {
	crises := &crisisAssignerStub{crisis: &models.Crisis{ID: "crisis-1", Status: models.CrisisStatusNew}}
	users := userReaderStub{users: map[string]*models.User{
		"civ-1": {ID: "civ-1", FullName: "Budi", Role: models.RoleCivilian},
	}}
	svc := newAssignmentServiceForTest(newMemResponseStore(), &counterStub{}, users, crises, &sinkStub{})

	_, err := svc.AdminAssign(context.Background(), "crisis-1", "civ-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAdminAssignSameVolunteerConflict(t *testing.T) {
	current := "vol-1"
	crises := &crisisAssignerStub{crisis: &models.Crisis{
		ID:                  "crisis-1",
		Status:              models.CrisisStatusAssigned,
		AssignedVolunteerID: &current,
	}}
	users := userReaderStub{users: map[string]*models.User{
		"vol-1": {ID: "vol-1", FullName: "Dina", Role: models.RoleVolunteer},
	}}
	svc := newAssignmentServiceForTest(newMemResponseStore(), &counterStub{}, users, crises, &sinkStub{})

	_, err := svc.AdminAssign(context.Background(), "crisis-1", "vol-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAdminAssignRejectsClosedCrisis(t *testing.T) {
	crises := &crisisAssignerStub{crisis: &models.Crisis{ID: "crisis-1", Status: models.CrisisStatusClosed}}
	users := userReaderStub{users: map[string]*models.User{
		"vol-1": {ID: "vol-1", FullName: "Dina", Role: models.RoleVolunteer},
	}}
	svc := newAssignmentServiceForTest(newMemResponseStore(), &counterStub{}, users, crises, &sinkStub{})

	_, err := svc.AdminAssign(context.Background(), "crisis-1", "vol-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestAdminAssignLosesCrisisRace(t *testing.T) {
	crises := &crisisAssignerStub{
		crisis:    &models.Crisis{ID: "crisis-1", Status: models.CrisisStatusVerified},
		assignErr: sql.ErrNoRows,
	}
	users := userReaderStub{users: map[string]*models.User{
		"vol-1": {ID: "vol-1", FullName: "Dina", Role: models.RoleVolunteer},
	}}
	svc := newAssignmentServiceForTest(newMemResponseStore(), &counterStub{}, users, crises, &sinkStub{})

	_, err := svc.AdminAssign(context.Background(), "crisis-1", "vol-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	store := newMemResponseStore(notifiedResponse())
	svc := newAssignmentServiceForTest(store, &counterStub{}, userReaderStub{}, &crisisAssignerStub{}, &sinkStub{})

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(context.Background(), "resp-1", "vol-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			code := appErrors.FromError(err).Code
			require.Contains(t, []string{appErrors.ErrConflict.Code, appErrors.ErrInvalidState.Code}, code)
			conflicts++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, conflicts)
}
