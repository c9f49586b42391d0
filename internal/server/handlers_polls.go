package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/pollpulse/internal/errors"
	"github.com/pscheid92/pollpulse/internal/metrics"
	"github.com/pscheid92/pollpulse/internal/platform/correlation"
	"github.com/pscheid92/pollpulse/internal/polls"
)

type createPollRequest struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
}

type voteRequest struct {
	Choice *int `json:"choice"`
}

func (s *Server) registerPollRoutes() {
	s.echo.POST("/api/polls", s.handleCreatePoll)
	s.echo.GET("/api/polls/:id", s.handleGetPoll)
	s.echo.POST("/api/polls/:id/vote", s.handleVote, newRateLimiter(s.config.VoteRateLimit, s.config.VoteRateBurst))
}

func (s *Server) handleCreatePoll(c echo.Context) error {
	var req createPollRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	poll, err := s.polls.Create(c.Request().Context(), req.Prompt, req.Choices)
	if err != nil {
		return apperrors.FromDomain(err)
	}

	if err := c.JSON(http.StatusCreated, poll); err != nil {
		return fmt.Errorf("failed to write poll response: %w", err)
	}
	return nil
}

func (s *Server) handleGetPoll(c echo.Context) error {
	id := c.Param("id")
	ctx := correlation.WithPollID(c.Request().Context(), id)

	poll, err := s.polls.Get(ctx, id)
	if err != nil {
		return apperrors.FromDomain(err)
	}

	if err := c.JSON(http.StatusOK, poll); err != nil {
		return fmt.Errorf("failed to write poll response: %w", err)
	}
	return nil
}

// handleVote applies one vote per poll and browser. The vote is recorded in
// the session cookie only after the coordinator accepted it.
func (s *Server) handleVote(c echo.Context) error {
	id := c.Param("id")
	ctx := correlation.WithPollID(c.Request().Context(), id)

	var req voteRequest
	if err := c.Bind(&req); err != nil || req.Choice == nil {
		return apperrors.ValidationError("choice is required")
	}

	// a broken or tampered cookie yields a fresh session
	session, _ := s.sessionStore.Get(c.Request(), voteSessionName)
	key := votedKey(id)
	if voted, _ := session.Values[key].(bool); voted {
		metrics.VotesTotal.WithLabelValues("already_voted").Inc()
		return apperrors.ConflictError("already voted")
	}

	counts, err := s.votes.Vote(ctx, id, *req.Choice)
	if err != nil {
		var propErr *polls.PropagationError
		if !errors.As(err, &propErr) {
			return apperrors.FromDomain(err).WithContext("choice", *req.Choice)
		}
		slog.WarnContext(ctx, "Vote counted but not propagated", "error", propErr.Err)
	}

	session.Values[key] = true
	if err := session.Save(c.Request(), c.Response()); err != nil {
		slog.ErrorContext(ctx, "Failed to record vote in session", "error", err)
	}

	if err := c.JSON(http.StatusOK, counts); err != nil {
		return fmt.Errorf("failed to write vote response: %w", err)
	}
	return nil
}

func votedKey(pollID string) string {
	return "voted:" + pollID
}
