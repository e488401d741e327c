package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/certhub/mailer/internal/domain"
)

// SESTransport sends through AWS SES v2 using raw message content, for
// deployments that route certificate mail through SES instead of a
// user-consented mailbox.
type SESTransport struct {
	client *sesv2.Client
}

// NewSESTransport creates an SES transport with static credentials.
func NewSESTransport(ctx context.Context, region, accessKey, secretKey string) (*SESTransport, error) {
	creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESTransport{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// Send submits one message as raw MIME so the attachment and alternative
// bodies survive unchanged.
func (t *SESTransport) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	mime, err := BuildMIME(msg)
	if err != nil {
		return nil, err
	}

	out, err := t.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.FromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: mime},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ses: %v", ErrSendRejected, err)
	}

	return &domain.SendResult{
		MessageID: aws.ToString(out.MessageId),
		Provider:  domain.ProviderSES,
		SentAt:    time.Now().UTC(),
	}, nil
}
