package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/warp/timeclock/attendance"
)

// Poster is the part of *slack.Client the sink needs.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts notifications as direct messages. Worker IDs and admin IDs
// are Slack user (or channel) IDs.
type Slack struct {
	client Poster
	admins []string
}

// NewSlack creates a sink authenticated with a bot token.
func NewSlack(token string, admins []string) *Slack {
	return NewSlackWithPoster(slack.New(token), admins)
}

func NewSlackWithPoster(client Poster, admins []string) *Slack {
	return &Slack{client: client, admins: append([]string(nil), admins...)}
}

func (s *Slack) Notify(ctx context.Context, to attendance.Audience, text string) error {
	if !to.IsAdmins() {
		return s.post(ctx, string(to.Worker), text)
	}
	var errs []error
	for _, admin := range s.admins {
		if err := s.post(ctx, admin, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Slack) post(ctx context.Context, channelID, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("failed to post message to %s: %w", channelID, err)
	}
	return nil
}
