package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/chorebank/internal/email"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/push"
	"github.com/dukerupert/chorebank/internal/websocket"
)

// HubSink broadcasts notices to the family's open live connections.
type HubSink struct {
	hub *websocket.Hub
}

func NewHubSink(hub *websocket.Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Deliver(_ context.Context, familyID int64, n Notice) error {
	entity, action, _ := strings.Cut(string(n.Kind), "_")
	s.hub.BroadcastFamily(familyID, websocket.NewMessage(entity, action, n.RefID, map[string]any{
		"title":   n.Title,
		"body":    n.Body,
		"user_id": n.UserID,
	}))
	return nil
}

// SubscriptionSource lists the push endpoints notices should reach.
type SubscriptionSource interface {
	ListForParents(ctx context.Context, familyID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// PushSink sends a Web Push message to every parent device in the family.
// Expired subscriptions are removed as they are found.
type PushSink struct {
	subs    SubscriptionSource
	service *push.Service
}

func NewPushSink(subs SubscriptionSource, service *push.Service) *PushSink {
	return &PushSink{subs: subs, service: service}
}

func (s *PushSink) Name() string { return "push" }

func (s *PushSink) Deliver(ctx context.Context, familyID int64, n Notice) error {
	subs, err := s.subs.ListForParents(ctx, familyID)
	if err != nil {
		return err
	}

	payload := push.Payload{Title: n.Title, Body: n.Body, Tag: string(n.Kind)}
	var errs []error
	for i := range subs {
		err := s.service.Send(ctx, &subs[i], payload)
		if errors.Is(err, push.ErrExpired) {
			if err := s.subs.DeleteByEndpoint(ctx, subs[i].Endpoint); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("subscription %d: %w", subs[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// ParentSource lists the family's parents.
type ParentSource interface {
	ListParents(ctx context.Context, familyID int64) ([]model.User, error)
}

// EmailSink mails notices to every parent with an address on file.
type EmailSink struct {
	parents ParentSource
	sender  email.Sender
}

func NewEmailSink(parents ParentSource, sender email.Sender) *EmailSink {
	return &EmailSink{parents: parents, sender: sender}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, familyID int64, n Notice) error {
	parents, err := s.parents.ListParents(ctx, familyID)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range parents {
		if p.Email == "" {
			continue
		}
		err := s.sender.Send(ctx, email.Message{
			To:       p.Email,
			Subject:  n.Title,
			TextBody: n.Body,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("parent %d: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}
