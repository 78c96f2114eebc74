package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"daybook/internal/types"
)

type fakeSlackAPI struct {
	history      *slack.GetConversationHistoryResponse
	historyErr   error
	historyCalls []*slack.GetConversationHistoryParameters

	posted    []string
	postErr   error
	openCalls int
	openErr   error
}

func (f *fakeSlackAPI) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	f.historyCalls = append(f.historyCalls, params)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if f.history != nil {
		return f.history, nil
	}
	return &slack.GetConversationHistoryResponse{}, nil
}

func (f *fakeSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.posted = append(f.posted, channelID)
	return channelID, "123.456", nil
}

func (f *fakeSlackAPI) OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	f.openCalls++
	if f.openErr != nil {
		return nil, false, false, f.openErr
	}
	ch := &slack.Channel{}
	ch.ID = "D" + params.Users[0]
	return ch, false, false, nil
}

func newTestGateway(api SlackAPI) *SlackGateway {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSlackGateway(api, "UBOT", logger)
}

func historyMessage(ts, user, botID, text string) slack.Message {
	var msg slack.Message
	msg.Timestamp = ts
	msg.User = user
	msg.BotID = botID
	msg.Text = text
	return msg
}

func TestFetchMessagesInRange_MapsMessages(t *testing.T) {
	api := &fakeSlackAPI{
		history: &slack.GetConversationHistoryResponse{
			Messages: []slack.Message{
				historyMessage("1744243500.000100", "U1", "", "woke up"),
				historyMessage("1744244000.000200", "UBOT", "", "daily report"),
				historyMessage("1744244500.000300", "U1", "B99", "automated note"),
			},
		},
	}
	g := newTestGateway(api)

	start := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * time.Hour)
	msgs, err := g.FetchMessagesInRange(context.Background(), "U1", start, end)
	if err != nil {
		t.Fatalf("FetchMessagesInRange: %v", err)
	}

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].IsAuthorSystem {
		t.Error("user message flagged as system")
	}
	if !msgs[1].IsAuthorSystem {
		t.Error("bot-user message not flagged as system")
	}
	if !msgs[2].IsAuthorSystem {
		t.Error("bot-ID message not flagged as system")
	}
	if msgs[0].ID != "1744243500.000100" {
		t.Errorf("message ID should be the platform timestamp, got %q", msgs[0].ID)
	}
	if got := msgs[0].Timestamp.Unix(); got != 1744243500 {
		t.Errorf("expected unix 1744243500, got %d", got)
	}
}

func TestFetchMessagesInRange_PassesWindowBounds(t *testing.T) {
	api := &fakeSlackAPI{}
	g := newTestGateway(api)

	start := time.Unix(1744243200, 0).UTC()
	end := time.Unix(1744268400, 0).UTC()
	if _, err := g.FetchMessagesInRange(context.Background(), "U1", start, end); err != nil {
		t.Fatalf("FetchMessagesInRange: %v", err)
	}

	if len(api.historyCalls) != 1 {
		t.Fatalf("expected 1 history call, got %d", len(api.historyCalls))
	}
	params := api.historyCalls[0]
	if params.ChannelID != "DU1" {
		t.Errorf("expected resolved DM channel DU1, got %q", params.ChannelID)
	}
	if params.Oldest != "1744243200.000000" {
		t.Errorf("unexpected oldest bound %q", params.Oldest)
	}
	if params.Latest != "1744268400.000000" {
		t.Errorf("unexpected latest bound %q", params.Latest)
	}
}

func TestFetchMessagesInRange_WrapsUpstreamError(t *testing.T) {
	g := newTestGateway(&fakeSlackAPI{historyErr: errors.New("rate_limited")})

	_, err := g.FetchMessagesInRange(context.Background(), "U1", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamChat {
		t.Errorf("expected upstream_chat_unavailable, got %s", appErr.Code)
	}
}

func TestFetchMessagesInRange_DeadlineGetsTimeoutCode(t *testing.T) {
	g := newTestGateway(&fakeSlackAPI{
		historyErr: fmt.Errorf("slack history: %w", context.DeadlineExceeded),
	})

	_, err := g.FetchMessagesInRange(context.Background(), "U1", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamTimeout {
		t.Errorf("expected upstream_timeout, got %s", appErr.Code)
	}
}

func TestSendMessage_CachesDMChannel(t *testing.T) {
	api := &fakeSlackAPI{}
	g := newTestGateway(api)

	for i := 0; i < 3; i++ {
		if err := g.SendMessage(context.Background(), "U1", "hello"); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	if api.openCalls != 1 {
		t.Errorf("expected 1 conversation open, got %d", api.openCalls)
	}
	if len(api.posted) != 3 {
		t.Errorf("expected 3 posts, got %d", len(api.posted))
	}
	for _, ch := range api.posted {
		if ch != "DU1" {
			t.Errorf("expected posts to DU1, got %q", ch)
		}
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	ts, err := parseSlackTimestamp("1712694000.000100")
	if err != nil {
		t.Fatalf("parseSlackTimestamp: %v", err)
	}
	if ts.Unix() != 1712694000 {
		t.Errorf("expected unix 1712694000, got %d", ts.Unix())
	}

	if _, err := parseSlackTimestamp("not-a-timestamp"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}
