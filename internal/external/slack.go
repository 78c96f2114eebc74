// Package external provides the anti-corruption layer between daybook domain
// logic and the chat platform. All outbound Slack calls are routed through a
// shared circuit breaker with bounded timeouts, so one unresponsive upstream
// call degrades into a per-item failure instead of stalling a batch.
package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker/v2"

	"daybook/internal/reports"
	"daybook/internal/types"
)

// historyPageLimit caps one conversation-history page. The suspend window is
// a few hours of personal logging; a single page is plenty.
const historyPageLimit = 200

// SlackAPI is the subset of *slack.Client the gateway uses, extracted for
// clean testing without the real API.
type SlackAPI interface {
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// SlackGateway implements types.MessagingSource and types.ReportSender on
// top of the Slack Web API. Each user's channel is the bot's DM with that
// user, resolved once and cached.
type SlackGateway struct {
	api       SlackAPI
	breaker   *gobreaker.CircuitBreaker[any]
	botUserID string
	logger    *slog.Logger

	mu       sync.Mutex
	channels map[string]string // userID → DM channel ID
}

// NewSlackGateway creates the gateway. botUserID identifies the service's
// own messages so recovery can filter them out.
func NewSlackGateway(api SlackAPI, botUserID string, logger *slog.Logger) *SlackGateway {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "slack",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &SlackGateway{
		api:       api,
		breaker:   breaker,
		botUserID: botUserID,
		logger:    logger,
		channels:  make(map[string]string),
	}
}

// FetchMessagesInRange implements types.MessagingSource. Slack's history
// call is range-fuzzy around the requested boundaries; callers re-check
// exact timestamps.
func (g *SlackGateway) FetchMessagesInRange(ctx context.Context, channelOwnerID string, start, end time.Time) ([]types.ChatMessage, error) {
	channelID, err := g.channelFor(ctx, channelOwnerID)
	if err != nil {
		return nil, err
	}

	resp, err := g.breaker.Execute(func() (any, error) {
		return g.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Oldest:    slackTimestamp(start),
			Latest:    slackTimestamp(end),
			Inclusive: true,
			Limit:     historyPageLimit,
		})
	})
	if err != nil {
		return nil, upstreamError("fetching conversation history failed", err)
	}

	history := resp.(*slack.GetConversationHistoryResponse)
	messages := make([]types.ChatMessage, 0, len(history.Messages))
	for _, msg := range history.Messages {
		ts, err := parseSlackTimestamp(msg.Timestamp)
		if err != nil {
			g.logger.Warn("skipping message with unparseable timestamp",
				"channel", channelID, "ts", msg.Timestamp)
			continue
		}
		messages = append(messages, types.ChatMessage{
			ID:             msg.Timestamp,
			AuthorID:       msg.User,
			IsAuthorSystem: msg.BotID != "" || msg.User == g.botUserID,
			Content:        msg.Text,
			Timestamp:      ts,
		})
	}
	return messages, nil
}

// SendMessage implements the text half of types.ReportSender.
func (g *SlackGateway) SendMessage(ctx context.Context, userID, text string) error {
	channelID, err := g.channelFor(ctx, userID)
	if err != nil {
		return err
	}

	_, err = g.breaker.Execute(func() (any, error) {
		_, _, err := g.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
		return nil, err
	})
	if err != nil {
		return upstreamError("posting message failed", err)
	}
	return nil
}

// SendDailyReport implements types.ReportSender. Report content assembly
// lives with the activity classifiers; the gateway frames the delivery with
// the user's current business date.
func (g *SlackGateway) SendDailyReport(ctx context.Context, userID, timezone string) error {
	date, err := reports.BusinessDate(time.Now(), timezone)
	if err != nil {
		return err
	}
	text := fmt.Sprintf(":newspaper: Daily report for %s", date.Format("2006-01-02"))
	return g.SendMessage(ctx, userID, text)
}

// channelFor resolves and caches the bot's DM channel with the user.
func (g *SlackGateway) channelFor(ctx context.Context, userID string) (string, error) {
	g.mu.Lock()
	if id, ok := g.channels[userID]; ok {
		g.mu.Unlock()
		return id, nil
	}
	g.mu.Unlock()

	resp, err := g.breaker.Execute(func() (any, error) {
		channel, _, _, err := g.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users: []string{userID},
		})
		return channel, err
	})
	if err != nil {
		return "", upstreamError(fmt.Sprintf("opening conversation with %s failed", userID), err)
	}

	channel := resp.(*slack.Channel)
	g.mu.Lock()
	g.channels[userID] = channel.ID
	g.mu.Unlock()
	return channel.ID, nil
}

// upstreamError classifies a failed Slack call: a deadline overrun gets the
// timeout code so callers can distinguish a slow upstream from a broken one.
func upstreamError(message string, err error) *types.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeUpstreamTimeout, message, err)
	}
	return types.NewAppError(types.ErrCodeUpstreamChat, message, err)
}

// slackTimestamp renders a time as Slack's seconds.microseconds string.
func slackTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// parseSlackTimestamp converts Slack's "1712694000.000100" format to a UTC
// time.
func parseSlackTimestamp(ts string) (time.Time, error) {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec := int64(f)
	usec := int64((f - float64(sec)) * 1e6)
	return time.Unix(sec, usec*1000).UTC(), nil
}
