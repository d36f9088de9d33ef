package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

// MessageSender is the part of *messaging.Client used for pushes.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Push sends notifications to the client's mobile app through Firebase Cloud Messaging.
type Push struct {
	sender  MessageSender
	clients repository.ClientRepository
}

// NewFirebasePush initializes the Firebase app from a service account file
func NewFirebasePush(ctx context.Context, credentialsFile string, clients repository.ClientRepository) (*Push, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return NewPush(client, clients), nil
}

func NewPush(sender MessageSender, clients repository.ClientRepository) *Push {
	return &Push{sender: sender, clients: clients}
}

func (p *Push) Notify(ctx context.Context, n domain.Notification) error {
	client, err := p.clients.GetByID(ctx, n.ClientID)
	if err != nil {
		return fmt.Errorf("load client %s: %w", n.ClientID, err)
	}
	if client.PushToken == nil || *client.PushToken == "" {
		return nil
	}

	data := map[string]string{"kind": string(n.Kind)}
	for k, v := range n.Data {
		data[k] = v
	}
	_, err = p.sender.Send(ctx, &messaging.Message{
		Token: *client.PushToken,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("push to client %s: %w", n.ClientID, err)
	}
	return nil
}
