package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"lighthouse/internal/config"
	"lighthouse/internal/services"
)

const stageName = "notification"

// MinutesReady carries the download links included in the completion
// email. Empty links are omitted from the message.
type MinutesReady struct {
	MeetingID   string
	SourceName  string
	HTMLLink    string
	PDFLink     string
	ExpiryHours int
}

// RunFailed describes a terminal pipeline failure for the alert email.
type RunFailed struct {
	MeetingID string
	Cause     string
	Message   string
}

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyMinutesReady(ctx context.Context, event MinutesReady) error
	NotifyRunFailed(ctx context.Context, event RunFailed) error
	TestNotification(ctx context.Context) error
}

// api is the subset of the SNS client used here.
type api interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, params *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
}

// NewService builds an SNS-backed notification service. When notifications
// are disabled or no topic is configured, a noop implementation is
// returned.
func NewService(awsCfg aws.Config, cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.TopicARN)
	if !cfg.Notifications.Enabled || topic == "" {
		return noopService{}
	}
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})
	return &snsService{
		client:    client,
		topicARN:  topic,
		recipient: strings.TrimSpace(cfg.Notifications.RecipientEmail),
	}
}

type snsService struct {
	client    api
	topicARN  string
	recipient string
}

func (s *snsService) NotifyMinutesReady(ctx context.Context, event MinutesReady) error {
	var options []string
	if event.HTMLLink != "" {
		options = append(options, fmt.Sprintf("HTML version (recommended): %s", event.HTMLLink))
	}
	if event.PDFLink != "" {
		options = append(options, fmt.Sprintf("PDF version: %s", event.PDFLink))
	}
	if len(options) == 0 {
		return services.Wrap(services.ErrValidation, stageName, "compose message", "no download links available", nil)
	}

	expiry := event.ExpiryHours
	if expiry <= 0 {
		expiry = 24
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Your meeting minutes are ready: %s\n\n", event.SourceName)
	body.WriteString("Download options:\n\n")
	for _, option := range options {
		body.WriteString(option)
		body.WriteString("\n")
	}
	fmt.Fprintf(&body, "\nAll download links expire in %d hours.\n", expiry)
	body.WriteString("\nIf this is your first notification, confirm the SNS subscription email before future messages arrive automatically.\n")

	return s.publish(ctx, "Your meeting minutes are ready", body.String())
}

func (s *snsService) NotifyRunFailed(ctx context.Context, event RunFailed) error {
	var body strings.Builder
	fmt.Fprintf(&body, "Processing failed for meeting %s.\n\n", event.MeetingID)
	fmt.Fprintf(&body, "Cause: %s\n", event.Cause)
	if event.Message != "" {
		fmt.Fprintf(&body, "Detail: %s\n", event.Message)
	}
	body.WriteString("\nThe recording remains in place; retry the run after resolving the issue.\n")

	return s.publish(ctx, fmt.Sprintf("Meeting processing failed: %s", event.MeetingID), body.String())
}

func (s *snsService) TestNotification(ctx context.Context) error {
	return s.publish(ctx, "Lighthouse test notification", "Notification delivery is configured correctly.")
}

func (s *snsService) publish(ctx context.Context, subject, message string) error {
	if err := s.ensureSubscribed(ctx); err != nil {
		return err
	}
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "publish", subject, err)
	}
	return nil
}

// ensureSubscribed subscribes the configured recipient to the topic the
// first time a notification goes out. The recipient still has to confirm
// the subscription email once.
func (s *snsService) ensureSubscribed(ctx context.Context) error {
	if s.recipient == "" {
		return nil
	}

	var next *string
	for {
		out, err := s.client.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(s.topicARN),
			NextToken: next,
		})
		if err != nil {
			return services.Wrap(services.ErrTransient, stageName, "list subscriptions", s.topicARN, err)
		}
		for _, sub := range out.Subscriptions {
			if strings.EqualFold(aws.ToString(sub.Protocol), "email") &&
				strings.EqualFold(aws.ToString(sub.Endpoint), s.recipient) &&
				aws.ToString(sub.SubscriptionArn) != "PendingConfirmation" {
				return nil
			}
		}
		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}

	_, err := s.client.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(s.topicARN),
		Protocol: aws.String("email"),
		Endpoint: aws.String(s.recipient),
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "subscribe recipient", s.recipient, err)
	}
	return nil
}
