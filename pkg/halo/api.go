package halo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/client"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/logging"
	"github.com/rs/zerolog"
)

// DefaultPageSize is the match history page size. The API caps pages at 25
// entries regardless of the count parameter.
const DefaultPageSize = 25

// Config holds the API client configuration.
type Config struct {
	// StatsBaseURL is the Halo stats service base URL.
	StatsBaseURL string

	// ProfileBaseURL is the Xbox profile service base URL used for
	// gamertag/XUID resolution.
	ProfileBaseURL string

	// PageSize is the match history page size (max 25).
	PageSize int
}

// DefaultConfig returns the production endpoints.
func DefaultConfig() Config {
	return Config{
		StatsBaseURL:   "https://halostats.svc.halowaypoint.com",
		ProfileBaseURL: "https://profile.xboxlive.com",
		PageSize:       DefaultPageSize,
	}
}

// Client exposes the Halo API operations the engine needs, on top of the
// rate-limited fetch client.
type Client struct {
	fetch  *client.Fetcher
	config Config
	logger zerolog.Logger
}

// NewClient creates a new API client.
func NewClient(fetch *client.Fetcher, cfg Config) (*Client, error) {
	if fetch == nil {
		return nil, fmt.Errorf("fetch client is required")
	}
	if cfg.StatsBaseURL == "" || cfg.ProfileBaseURL == "" {
		return nil, fmt.Errorf("base URLs are required")
	}
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultPageSize {
		cfg.PageSize = DefaultPageSize
	}

	return &Client{
		fetch:  fetch,
		config: cfg,
		logger: logging.NewLogger("halo-api"),
	}, nil
}

// PageSize returns the configured match history page size.
func (c *Client) PageSize() int {
	return c.config.PageSize
}

// FetchPage retrieves one page of a player's match history. Page numbering
// starts at 0.
func (c *Client) FetchPage(ctx context.Context, xuid string, page int) (*MatchPage, error) {
	endpoint := fmt.Sprintf("%s/hi/players/%s/matches?start=%d&count=%d",
		c.config.StatsBaseURL, xuidTag(xuid), page*c.config.PageSize, c.config.PageSize)

	body, err := c.fetch.GetJSON(ctx, "match_history", endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch match history page %d: %w", page, err)
	}

	var resp matchHistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode match history page %d: %w", page, err)
	}

	summaries := make([]MatchSummary, 0, len(resp.Results))
	for _, item := range resp.Results {
		summaries = append(summaries, MatchSummary{
			MatchID:   item.MatchID,
			Timestamp: item.MatchInfo.StartTime,
			Outcome:   outcomeFromCode(item.Outcome),
		})
	}

	c.logger.Debug().
		Str("xuid", xuid).
		Int("page", page).
		Int("entries", len(summaries)).
		Int("estimated_total", resp.EstimatedTotal).
		Msg("Fetched match history page")

	return &MatchPage{
		Summaries:      summaries,
		EstimatedTotal: resp.EstimatedTotal,
	}, nil
}

// MatchStats retrieves the detail record for one match and extracts the stat
// line of the requesting player. Returns a not_found failure when the player
// did not participate in the match.
func (c *Client) MatchStats(ctx context.Context, matchID, xuid string) (*MatchStatLine, error) {
	endpoint := fmt.Sprintf("%s/hi/matches/%s/stats", c.config.StatsBaseURL, url.PathEscape(matchID))

	body, err := c.fetch.GetJSON(ctx, "match_stats", endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch match %s stats: %w", matchID, err)
	}

	var resp matchStatsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode match %s stats: %w", matchID, err)
	}

	for _, player := range resp.Players {
		if parseXUID(player.PlayerID) != xuid {
			continue
		}
		if len(player.PlayerTeamStats) == 0 {
			break
		}

		core := player.PlayerTeamStats[0].Stats.CoreStats

		var accuracy float64
		if core.ShotsFired > 0 {
			accuracy = float64(core.ShotsHit) / float64(core.ShotsFired)
		}

		return &MatchStatLine{
			MatchID:  matchID,
			Kills:    core.Kills,
			Deaths:   core.Deaths,
			Assists:  core.Assists,
			Outcome:  outcomeFromCode(player.Outcome),
			Accuracy: accuracy,
		}, nil
	}

	return nil, &client.FetchError{
		Kind:       client.KindNotFound,
		StatusCode: http.StatusNotFound,
		Endpoint:   "match_stats",
		Message:    fmt.Sprintf("player %s not present in match %s", xuid, matchID),
	}
}

// MatchParticipants retrieves the XUIDs of every player in a match. Bot
// participants are skipped.
func (c *Client) MatchParticipants(ctx context.Context, matchID string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/hi/matches/%s/stats", c.config.StatsBaseURL, url.PathEscape(matchID))

	body, err := c.fetch.GetJSON(ctx, "match_stats", endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch match %s participants: %w", matchID, err)
	}

	var resp matchStatsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode match %s participants: %w", matchID, err)
	}

	xuids := make([]string, 0, len(resp.Players))
	for _, player := range resp.Players {
		if xuid := parseXUID(player.PlayerID); xuid != "" {
			xuids = append(xuids, xuid)
		}
	}

	return xuids, nil
}

// ResolveGamertag resolves a gamertag to its XUID via the Xbox profile API.
func (c *Client) ResolveGamertag(ctx context.Context, gamertag string) (string, error) {
	endpoint := fmt.Sprintf("%s/users/gt(%s)/profile/settings?settings=Gamertag",
		c.config.ProfileBaseURL, url.PathEscape(gamertag))

	body, err := c.fetch.GetJSON(ctx, "resolve_gamertag", endpoint)
	if err != nil {
		return "", fmt.Errorf("resolve gamertag %q: %w", gamertag, err)
	}

	var resp profileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode profile for %q: %w", gamertag, err)
	}

	if len(resp.ProfileUsers) == 0 || resp.ProfileUsers[0].ID == "" {
		return "", &client.FetchError{
			Kind:       client.KindNotFound,
			StatusCode: http.StatusNotFound,
			Endpoint:   "resolve_gamertag",
			Message:    fmt.Sprintf("no profile returned for gamertag %q", gamertag),
		}
	}

	return resp.ProfileUsers[0].ID, nil
}

// ResolveXUID resolves a XUID back to its current gamertag.
func (c *Client) ResolveXUID(ctx context.Context, xuid string) (string, error) {
	endpoint := fmt.Sprintf("%s/users/%s/profile/settings?settings=Gamertag",
		c.config.ProfileBaseURL, xuidTag(xuid))

	body, err := c.fetch.GetJSON(ctx, "resolve_xuid", endpoint)
	if err != nil {
		return "", fmt.Errorf("resolve xuid %s: %w", xuid, err)
	}

	var resp profileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode profile for xuid %s: %w", xuid, err)
	}

	for _, user := range resp.ProfileUsers {
		for _, setting := range user.Settings {
			if setting.ID == "Gamertag" && setting.Value != "" {
				return setting.Value, nil
			}
		}
	}

	return "", &client.FetchError{
		Kind:       client.KindNotFound,
		StatusCode: http.StatusNotFound,
		Endpoint:   "resolve_xuid",
		Message:    fmt.Sprintf("no gamertag returned for xuid %s", xuid),
	}
}
