package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WolfwithSword/TwitchChatDND/internal/config"
	apperrors "github.com/WolfwithSword/TwitchChatDND/internal/errors"
)

func panelContext(t *testing.T, method, target string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func panelJSONContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandleSessionStartUsesConfiguredPartySize(t *testing.T) {
	f := newServerFixture(t)
	c, rec := panelContext(t, http.MethodPost, "/api/session/start")

	err := f.srv.handleSessionStart(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.control.started)
	assert.Equal(t, 4, f.control.lastParty) // dnd.party_size default
}

func TestHandleSessionStartOverridesPartySize(t *testing.T) {
	f := newServerFixture(t)
	c, rec := panelContext(t, http.MethodPost, "/api/session/start?party_size=2")

	err := f.srv.handleSessionStart(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.control.lastParty)
}

func TestHandleSessionStartRejectsBadPartySize(t *testing.T) {
	f := newServerFixture(t)
	c, _ := panelContext(t, http.MethodPost, "/api/session/start?party_size=zero")

	err := f.srv.handleSessionStart(c)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)
	assert.Equal(t, 0, f.control.started)
}

func TestHandleSessionStartShortfallIsPolicyError(t *testing.T) {
	f := newServerFixture(t)
	f.control.startOK = false
	c, _ := panelContext(t, http.MethodPost, "/api/session/start")

	err := f.srv.handleSessionStart(c)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypePolicy, structured.Type)
	assert.Equal(t, http.StatusConflict, structured.HTTPStatus())
}

func TestHandleSessionOpenReportsState(t *testing.T) {
	f := newServerFixture(t)
	c, rec := panelContext(t, http.MethodPost, "/api/session/open")

	err := f.srv.handleSessionOpen(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.control.opened)
	assert.Contains(t, rec.Body.String(), `"state":"open"`)
}

func TestHandlePartyAddCreatesUnknownMember(t *testing.T) {
	f := newServerFixture(t)
	c, rec := panelContext(t, http.MethodPost, "/api/party/add/Alice")
	c.SetParamNames("name")
	c.SetParamValues("Alice")

	err := f.srv.handlePartyAdd(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.mgr.InParty("alice"))

	var got memberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "alice", got.Name)
	assert.Equal(t, "https://cdn.example/alice.png", got.PFPURL)
}

func TestHandlePartyAddFullParty(t *testing.T) {
	f := newServerFixture(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		m, err := f.members.Upsert(context.Background(), name, "")
		require.NoError(t, err)
		require.NoError(t, f.mgr.AddMember(m))
	}

	c, _ := panelContext(t, http.MethodPost, "/api/party/add/overflow")
	c.SetParamNames("name")
	c.SetParamValues("overflow")
	_, err := f.members.Upsert(context.Background(), "overflow", "")
	require.NoError(t, err)

	err = f.srv.handlePartyAdd(c)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypePolicy, structured.Type)
}

func TestHandlePartyRemove(t *testing.T) {
	f := newServerFixture(t)
	m, err := f.members.Upsert(context.Background(), "alice", "")
	require.NoError(t, err)
	require.NoError(t, f.mgr.AddMember(m))

	c, rec := panelContext(t, http.MethodDelete, "/api/party/alice")
	c.SetParamNames("name")
	c.SetParamValues("alice")

	require.NoError(t, f.srv.handlePartyRemove(c))
	assert.Contains(t, rec.Body.String(), `"removed":true`)
	assert.False(t, f.mgr.InParty("alice"))

	// Removing again is a no-op.
	c, rec = panelContext(t, http.MethodDelete, "/api/party/alice")
	c.SetParamNames("name")
	c.SetParamValues("alice")

	require.NoError(t, f.srv.handlePartyRemove(c))
	assert.Contains(t, rec.Body.String(), `"removed":false`)
}

func TestHandlePartyList(t *testing.T) {
	f := newServerFixture(t)
	m, err := f.members.Upsert(context.Background(), "alice", "https://cdn.example/alice.png")
	require.NoError(t, err)
	require.NoError(t, f.mgr.AddMember(m))

	c, rec := panelContext(t, http.MethodGet, "/api/party")
	require.NoError(t, f.srv.handlePartyList(c))

	var got []memberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Name)
}

func TestHandleMembersListValidatesPaging(t *testing.T) {
	f := newServerFixture(t)
	c, _ := panelContext(t, http.MethodGet, "/api/members?per_page=9999")

	err := f.srv.handleMembersList(c)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)
}

func TestHandleMembersList(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.members.Upsert(context.Background(), "bob", "")
	require.NoError(t, err)
	_, err = f.members.Upsert(context.Background(), "alice", "")
	require.NoError(t, err)

	c, rec := panelContext(t, http.MethodGet, "/api/members")
	require.NoError(t, f.srv.handleMembersList(c))

	var got []memberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Name)
	assert.Equal(t, "bob", got[1].Name)
}

func TestHandleSettingsUpdatePersistsAndPublishes(t *testing.T) {
	f := newServerFixture(t)
	fired := 0
	f.events.SettingsUpdated.Subscribe("settings_test", func(struct{}) error {
		fired++
		return nil
	})

	c, rec := panelJSONContext(t, http.MethodPut, "/api/settings",
		`{"bot":{"join_command":"queue"},"dnd":{"party_size":6}}`)

	require.NoError(t, f.srv.handleSettingsUpdate(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queue", f.cfg.Get(config.SectionBot, "join_command"))
	assert.Equal(t, 6, f.cfg.GetInt(config.SectionDnD, "party_size"))
	assert.Equal(t, 1, fired)
}

func TestHandleSettingsUpdateRejectsUnknownSection(t *testing.T) {
	f := newServerFixture(t)
	fired := 0
	f.events.SettingsUpdated.Subscribe("settings_test", func(struct{}) error {
		fired++
		return nil
	})

	c, _ := panelJSONContext(t, http.MethodPut, "/api/settings",
		`{"mystery":{"option":"value"}}`)

	err := f.srv.handleSettingsUpdate(c)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)
	assert.Equal(t, 0, fired)
}

func TestHandleSettingsUpdateRejectsEmptyBody(t *testing.T) {
	f := newServerFixture(t)
	c, _ := panelJSONContext(t, http.MethodPut, "/api/settings", `{}`)

	err := f.srv.handleSettingsUpdate(c)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)
}
