package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"quora/internal/config"
	"quora/internal/core"
	"quora/internal/types"
)

// =============================================================================
// Shared fixtures
// =============================================================================

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestRouter mounts the handler behind the production middleware chain
// so identity and error mapping behave as in cmd/api.
func newTestRouter(t *testing.T, register func(chi.Router)) http.Handler {
	t.Helper()
	srv, err := core.NewServer(&config.Config{Environment: "local"}, testLogger)
	require.NoError(t, err)
	srv.V1RouteRegistrars = []func(chi.Router){register}
	srv.MountRoutes()
	return srv.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Code
}

// =============================================================================
// Mock Implementations
// =============================================================================

type mockForums struct {
	forums      map[int64]*types.Forum
	discussions map[int64]*types.Discussion
	courses     map[int64]*types.Course
	modules     map[int64]*types.CourseModule
}

func newMockForums() *mockForums {
	return &mockForums{
		forums: map[int64]*types.Forum{
			10: {ID: 10, CourseID: 2, Type: types.ForumGeneral, Name: "Lab groups", TrackingType: types.TrackingOptional},
		},
		discussions: map[int64]*types.Discussion{
			5: {ID: 5, ForumID: 10, CourseID: 2, Name: "Week 1", GroupID: types.AllGroups},
		},
		courses: map[int64]*types.Course{2: {ID: 2, ShortName: "PHYS101"}},
		modules: map[int64]*types.CourseModule{10: {ID: 30, CourseID: 2, Instance: 10, GroupMode: types.NoGroups, Visible: true}},
	}
}

func (m *mockForums) GetForum(_ context.Context, id int64) (*types.Forum, error) {
	if f, ok := m.forums[id]; ok {
		return f, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundForum, "forum not found", nil)
}

func (m *mockForums) GetDiscussion(_ context.Context, id int64) (*types.Discussion, error) {
	if d, ok := m.discussions[id]; ok {
		return d, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundDiscussion, "discussion not found", nil)
}

func (m *mockForums) GetCourse(_ context.Context, id int64) (*types.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundCourse, "course not found", nil)
}

func (m *mockForums) GetModuleForForum(_ context.Context, forumID int64) (*types.CourseModule, error) {
	if cm, ok := m.modules[forumID]; ok {
		return cm, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundModule, "course module not found", nil)
}

type mockUsers map[int64]*types.User

func (m mockUsers) GetByID(_ context.Context, id int64) (*types.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func testUsers() mockUsers {
	return mockUsers{
		1: {ID: 1, Username: "ada", TrackForums: true},
		2: {ID: 2, Username: "grace", Suspended: true},
	}
}
