// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/homebase/core"
)

// SQSAPI is the part of the SQS client the SQS notifier needs
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS is a notifier which sends events to an SQS queue
type SQS struct {
	client   SQSAPI
	queueURL string
}

// NewSQS creates a notifier for the queue with queueURL
func NewSQS(cfg aws.Config, queueURL string) (*SQS, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs notifier requires a queue url")
	}
	return NewSQSWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSWithClient creates a notifier with an existing client
func NewSQSWithClient(client SQSAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

// Notify implements Notifier
func (s *SQS) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	body, err := json.Marshal(NewEvent(ctx, resource, operation, payload))
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"resource":  {DataType: aws.String("String"), StringValue: aws.String(resource)},
			"operation": {DataType: aws.String("String"), StringValue: aws.String(string(operation))},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot send %s %s to sqs: %w", operation, resource, err)
	}
	return nil
}
