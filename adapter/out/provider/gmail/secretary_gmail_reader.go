// Package gmail reads unseen mail for the inbox sweep.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/apperr"
)

const labelUnread = "UNREAD"

// Config holds the OAuth client and the long-lived refresh token of the
// swept account.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Reader implements out.MailboxReader against the Gmail API.
type Reader struct {
	tokens oauth2.TokenSource
	cb     *gobreaker.CircuitBreaker
	log    zerolog.Logger
	// opts replaces the token source when set (tests point it at a local server).
	opts []option.ClientOption
}

// NewReader creates a Reader. Access tokens are refreshed on demand.
func NewReader(ctx context.Context, cfg Config, log zerolog.Logger) (*Reader, error) {
	if cfg.RefreshToken == "" {
		return nil, apperr.ConfigError("GMAIL_REFRESH_TOKEN is required for the gmail mailbox reader")
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}

	logger := log.With().Str("component", "gmail_reader").Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
		},
	})

	return &Reader{
		tokens: oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}),
		cb:     cb,
		log:    logger,
	}, nil
}

var _ out.MailboxReader = (*Reader)(nil)

// ListUnseen returns up to profile.MaxMessages unread messages matching profile.Query.
func (r *Reader) ListUnseen(ctx context.Context, profile domain.MailboxProfile) ([]*domain.InboundEmail, error) {
	svc, err := r.service(ctx)
	if err != nil {
		return nil, err
	}

	query := domain.UnseenQuery(profile.Query)
	limit := int64(profile.MaxMessages)
	if limit <= 0 {
		limit = 25
	}

	var refs []*gmail.Message
	err = r.execute("ListMessages", func() error {
		resp, err := svc.Users.Messages.List("me").Q(query).MaxResults(limit).Context(ctx).Do()
		if err != nil {
			return err
		}
		refs = resp.Messages
		return nil
	})
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}

	emails := make([]*domain.InboundEmail, 0, len(refs))
	for _, ref := range refs {
		var msg *gmail.Message
		err := r.execute("GetMessage", func() error {
			m, err := svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
			msg = m
			return err
		})
		if err != nil {
			// 하나 실패해도 나머지는 계속
			r.log.Warn().Err(err).Str("message_id", ref.Id).Msg("failed to fetch message")
			continue
		}
		emails = append(emails, convertMessage(msg))
	}
	return emails, nil
}

// MarkSeen removes the UNREAD label.
func (r *Reader) MarkSeen(ctx context.Context, _ domain.MailboxProfile, messageID string) error {
	svc, err := r.service(ctx)
	if err != nil {
		return err
	}
	err = r.execute("MarkSeen", func() error {
		_, err := svc.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{labelUnread},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return apperr.ExternalError("gmail", err)
	}
	return nil
}

func (r *Reader) service(ctx context.Context) (*gmail.Service, error) {
	opts := r.opts
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithTokenSource(r.tokens)}
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.ExternalError("gmail", fmt.Errorf("failed to create gmail service: %w", err))
	}
	return svc, nil
}

// execute runs fn behind the breaker. Client errors (4xx other than 429)
// pass through without counting as breaker failures.
func (r *Reader) execute(operation string, fn func() error) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err != nil {
		r.log.Debug().Err(err).Str("operation", operation).Str("state", r.cb.State().String()).Msg("gmail call failed")
	}
	return err
}

func tripsBreaker(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.Code >= 500 || apiErr.Code == 429
}

// =============================================================================
// Message conversion
// =============================================================================

func convertMessage(msg *gmail.Message) *domain.InboundEmail {
	email := &domain.InboundEmail{ID: msg.Id}
	if msg.InternalDate > 0 {
		email.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		email.Body = msg.Snippet
		return email
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			email.From = h.Value
		case "subject":
			email.Subject = h.Value
		}
	}

	var text, html string
	walkParts(msg.Payload, &text, &html, &email.Attachments)
	switch {
	case text != "":
		email.Body = text
	case html != "":
		email.Body = html
	default:
		email.Body = msg.Snippet
	}
	return email
}

func walkParts(part *gmail.MessagePart, text, html *string, attachments *[]domain.AttachmentRef) {
	if part == nil {
		return
	}
	if part.Filename != "" {
		ref := domain.AttachmentRef{Filename: part.Filename, MimeType: part.MimeType}
		if part.Body != nil {
			ref.Path = part.Body.AttachmentId
		}
		*attachments = append(*attachments, ref)
	} else if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if *text == "" {
				*text = decodeBody(part.Body.Data)
			}
		case "text/html":
			if *html == "" {
				*html = decodeBody(part.Body.Data)
			}
		}
	}
	for _, p := range part.Parts {
		walkParts(p, text, html, attachments)
	}
}

// decodeBody accepts padded and unpadded base64url.
func decodeBody(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}
