package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations required by the SNS provider. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSProvider delivers messages via Amazon SNS SMS. SNS has no message
// status query and posts receipts to CloudWatch rather than a webhook, so
// Poll reports pending and ParseReceipt is unsupported; delivery tracking
// for SNS stays at the dispatch record.
type SNSProvider struct {
	client   snsPublisher
	priority int
}

// NewSNSProvider creates an SNSProvider backed by the given SNS client.
func NewSNSProvider(client snsPublisher, priority int) *SNSProvider {
	return &SNSProvider{client: client, priority: priority}
}

func (p *SNSProvider) Name() string  { return "sns" }
func (p *SNSProvider) Priority() int { return p.priority }

func (p *SNSProvider) Send(ctx context.Context, to, message, _ string) (SendResult, error) {
	out, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: &to,
		Message:     &message,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("sns: publish: %w", err)
	}
	var id string
	if out.MessageId != nil {
		id = *out.MessageId
	}
	return SendResult{MessageID: id}, nil
}

func (p *SNSProvider) Poll(_ context.Context, _ string) (DeliveryStatus, error) {
	return StatusPending, nil
}

func (p *SNSProvider) ParseReceipt(_ []byte) (Receipt, error) {
	return Receipt{}, fmt.Errorf("sns: delivery receipts not supported")
}

var _ Provider = (*SNSProvider)(nil)
