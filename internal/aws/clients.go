package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSClients holds the service clients shared by the API and the worker. Both binaries build
// one bundle at cold start.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewAWSClients loads the SDK config (optionally against a local endpoint) and builds the clients.
func NewAWSClients(ctx context.Context, region, endpoint string) (*AWSClients, error) {
	cfg, err := LoadAWSConfig(ctx, region, endpoint)
	if err != nil {
		return nil, fmt.Errorf("aws clients: %w", err)
	}
	return &AWSClients{
		DynamoDB:   dynamodb.NewFromConfig(cfg),
		SQS:        sqs.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}, nil
}

// ConfirmationQueue returns a publisher for queued confirmation jobs.
func (c *AWSClients) ConfirmationQueue(queueURL string) *Publisher {
	return NewPublisher(c.SQS, queueURL)
}

// ReconcileMetrics returns a CloudWatch counter tagged with the service and environment.
func (c *AWSClients) ReconcileMetrics(namespace, service, environment string) *Metrics {
	return NewMetrics(c.CloudWatch, namespace, map[string]string{
		"Service":     service,
		"Environment": environment,
	})
}
