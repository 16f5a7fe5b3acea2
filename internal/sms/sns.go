package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"otp-service/internal/config"
)

// snsPublisher is the subset of the SNS client the sender needs; *sns.Client
// satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

const defaultSNSTimeout = 10 * time.Second

type SNSSender struct {
	client snsPublisher
	cfg    config.SNSConfig
}

func NewSNSSender(client snsPublisher, cfg config.SNSConfig) *SNSSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSNSTimeout
	}
	return &SNSSender{client: client, cfg: cfg}
}

func (s *SNSSender) Name() string {
	return TransportSNS
}

func (s *SNSSender) Validate() error {
	if s.client == nil {
		return fmt.Errorf("%w: sns client", ErrMissingCredentials)
	}
	if s.cfg.Region == "" {
		return fmt.Errorf("%w: AWS_REGION", ErrMissingCredentials)
	}
	return nil
}

// Send publishes one SMS. The call is bounded by the configured timeout
// whatever deadline ctx carries.
func (s *SNSSender) Send(ctx context.Context, phoneDigits, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.cfg.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.cfg.SenderID),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String("+" + phoneDigits),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish sms via sns: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

var _ Sender = (*SNSSender)(nil)
