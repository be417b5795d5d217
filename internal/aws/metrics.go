package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics emits count metrics to CloudWatch under a single namespace.
type Metrics struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	Dimensions map[string]string
	nowFunc    func() time.Time
}

// NewMetrics returns a CloudWatch-backed counter. dimensions are attached to every datum
// (typically {"Service": "...", "Environment": "..."}).
func NewMetrics(cw CloudWatchAPI, namespace string, dimensions map[string]string) *Metrics {
	return &Metrics{
		CloudWatch: cw,
		Namespace:  namespace,
		Dimensions: dimensions,
		nowFunc:    time.Now,
	}
}

// Count records a single occurrence of name.
func (m *Metrics) Count(ctx context.Context, name string) error {
	dims := make([]cwtypes.Dimension, 0, len(m.Dimensions))
	for k, v := range m.Dimensions {
		dims = append(dims, cwtypes.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(v)})
	}

	_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.Namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(name),
				Dimensions: dims,
				Timestamp:  sdkaws.Time(m.nowFunc()),
				Unit:       cwtypes.StandardUnitCount,
				Value:      sdkaws.Float64(1),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data %s: %w", name, err)
	}
	return nil
}
