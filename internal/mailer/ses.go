package mailer

import (
	"context"
	"fmt"

	"medprice-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers mail through Amazon SES
type SESSender struct {
	client sesAPI
	from   Address
	logger *zap.Logger
}

// NewSESSender loads AWS credentials from the environment for region
func NewSESSender(ctx context.Context, region string, from Address) (*SESSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newSESSender(ses.NewFromConfig(cfg), from), nil
}

func newSESSender(client sesAPI, from Address) *SESSender {
	return &SESSender{client: client, from: from, logger: util.ComponentLogger("ses")}
}

// Send delivers msg through SES
func (s *SESSender) Send(ctx context.Context, msg Message) Result {
	if err := validate(msg); err != nil {
		return Failed(err)
	}

	input := &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(s.from.header(msg.FromName)),
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Warn("SES delivery failed", zap.String("to", msg.To), zap.Error(err))
		return Failed(err)
	}
	return Result{Success: true, MessageID: aws.ToString(out.MessageId)}
}
