package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/leadwave/leadwave/internal/pkg/logger"
)

// SESSender delivers email through AWS SES using the SDK v2.
type SESSender struct {
	client *sesv2.Client
}

// NewSESSender creates an SES adapter from static credentials. Returns an
// error when the AWS config cannot be assembled.
func NewSESSender(accessKey, secretKey, region string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("ses config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg)}, nil
}

func (s *SESSender) Name() string { return "ses" }

// Deliver sends one message via the SES SendEmail API. SES rejections are
// reported as unaccepted results rather than errors so the dispatcher can
// record the outcome per recipient.
func (s *SESSender) Deliver(ctx context.Context, msg *Message) (*Result, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("subscriber_id"), Value: aws.String(msg.SubscriberID)},
		},
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("ses send rejected", "email", msg.To, "error", err.Error())
		return &Result{Accepted: false, Provider: s.Name(), Reason: err.Error()}, nil
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	return &Result{
		Accepted:  true,
		MessageID: messageID,
		Provider:  s.Name(),
		SentAt:    time.Now(),
	}, nil
}
