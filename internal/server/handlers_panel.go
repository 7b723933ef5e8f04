package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/WolfwithSword/TwitchChatDND/internal/config"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	apperrors "github.com/WolfwithSword/TwitchChatDND/internal/errors"
)

const (
	defaultMembersPerPage = 25
	maxMembersPerPage     = 100
)

// memberResponse is the panel-facing view of a member.
type memberResponse struct {
	Name             string    `json:"name"`
	PFPURL           string    `json:"pfp_url"`
	NumSessions      int       `json:"num_sessions"`
	PreferredVoiceID string    `json:"preferred_voice_id,omitempty"`
	LastSession      time.Time `json:"last_session"`
}

func toMemberResponse(m *domain.Member) memberResponse {
	return memberResponse{
		Name:             m.Name,
		PFPURL:           m.PFPURL,
		NumSessions:      m.NumSessions,
		PreferredVoiceID: m.PreferredVoiceID,
		LastSession:      m.LastSession,
	}
}

func (s *Server) registerPanelRoutes() {
	s.echo.POST("/api/session/open", s.handleSessionOpen)
	s.echo.POST("/api/session/start", s.handleSessionStart)
	s.echo.POST("/api/session/end", s.handleSessionEnd)

	s.echo.GET("/api/party", s.handlePartyList)
	s.echo.POST("/api/party/add/:name", s.handlePartyAdd)
	s.echo.DELETE("/api/party/:name", s.handlePartyRemove)

	s.echo.GET("/api/members", s.handleMembersList)

	s.echo.PUT("/api/settings", s.handleSettingsUpdate)
}

// handleSettingsUpdate stages a batch of settings from the panel, persists
// them, and announces the change so live components re-read their options
// (command triggers rebind, prefix refreshes).
func (s *Server) handleSettingsUpdate(c echo.Context) error {
	var staged map[string]map[string]any
	if err := c.Bind(&staged); err != nil {
		return apperrors.ValidationError("request body must map sections to option/value objects")
	}
	if len(staged) == 0 {
		return apperrors.ValidationError("no settings provided")
	}
	for section := range staged {
		if !config.KnownSection(section) {
			return apperrors.ValidationError("unknown settings section").WithContext("section", section)
		}
	}

	for section, options := range staged {
		for option, value := range options {
			s.config.Set(section, option, value)
		}
	}
	if err := s.config.Save(); err != nil {
		return apperrors.InternalError("failed to save settings", err)
	}

	if err := s.events.SettingsUpdated.Publish(struct{}{}); err != nil {
		return apperrors.InternalError("failed to apply settings", err)
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleSessionOpen(c echo.Context) error {
	s.control.OpenSession(c.Request().Context())
	return s.respondState(c)
}

func (s *Server) handleSessionStart(c echo.Context) error {
	partySize := s.config.GetInt(config.SectionDnD, "party_size")
	if raw := c.QueryParam("party_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperrors.ValidationError("party_size must be a positive integer").WithContext("party_size", raw)
		}
		partySize = n
	}

	if !s.control.StartSession(c.Request().Context(), partySize) {
		return apperrors.PolicyError("not enough members in the queue").
			WithContext("queued", s.session.QueueLen()).
			WithContext("party_size", partySize)
	}
	return s.respondState(c)
}

func (s *Server) handleSessionEnd(c echo.Context) error {
	s.control.EndSession()
	return s.respondState(c)
}

func (s *Server) respondState(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"state":  s.session.State().String(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handlePartyList(c echo.Context) error {
	party := s.session.Party()
	response := make([]memberResponse, 0, len(party))
	for _, m := range party {
		response = append(response, toMemberResponse(m))
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handlePartyAdd force-adds a viewer to the party from the panel. Viewers who
// have never chatted are created on the fly with their Twitch avatar.
func (s *Server) handlePartyAdd(c echo.Context) error {
	ctx := c.Request().Context()

	name := domain.NormalizeName(c.Param("name"))
	if name == "" {
		return apperrors.ValidationError("member name must not be empty")
	}

	member, err := s.members.Fetch(ctx, name)
	if errors.Is(err, domain.ErrMemberNotFound) {
		pfpURL, lookupErr := s.lookupUser(ctx, name)
		if lookupErr != nil {
			return apperrors.ExternalError("failed to look up Twitch user", lookupErr).WithContext("name", name)
		}
		member, err = s.members.Upsert(ctx, name, pfpURL)
	}
	if err != nil {
		return apperrors.InternalError("failed to load member", err).WithContext("name", name)
	}

	if err := s.session.AddMember(member); err != nil {
		if errors.Is(err, domain.ErrPartyFull) {
			return apperrors.PolicyError("party is full").WithContext("name", name)
		}
		return apperrors.InternalError("failed to add member to party", err).WithContext("name", name)
	}

	if err := c.JSON(http.StatusOK, toMemberResponse(member)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handlePartyRemove(c echo.Context) error {
	name := domain.NormalizeName(c.Param("name"))
	if name == "" {
		return apperrors.ValidationError("member name must not be empty")
	}

	removed := s.session.RemoveMember(name, false)
	response := map[string]any{
		"status":  "ok",
		"removed": removed,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleMembersList(c echo.Context) error {
	ctx := c.Request().Context()

	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperrors.ValidationError("page must be a positive integer").WithContext("page", raw)
		}
		page = n
	}

	perPage := defaultMembersPerPage
	if raw := c.QueryParam("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxMembersPerPage {
			return apperrors.ValidationError("per_page must be between 1 and 100").WithContext("per_page", raw)
		}
		perPage = n
	}

	members, err := s.members.List(ctx, c.QueryParam("name"), page, perPage)
	if err != nil {
		return apperrors.InternalError("failed to list members", err)
	}

	response := make([]memberResponse, 0, len(members))
	for _, m := range members {
		response = append(response, toMemberResponse(m))
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
