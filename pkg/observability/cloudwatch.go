package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

const defaultPutTimeout = 2 * time.Second

// CloudWatchAPI is the subset of the CloudWatch client the sink uses
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes the business and generator metrics with
// PutMetricData. Lambda deployments use it in place of the Collector.
type CloudWatchMetrics struct {
	client    CloudWatchAPI
	namespace string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewCloudWatchMetrics creates a sink writing to namespace
func NewCloudWatchMetrics(client CloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		timeout:   defaultPutTimeout,
		logger:    logger,
	}
}

func (m *CloudWatchMetrics) IncConversationsCreated() {
	m.put(count("ConversationsCreated"))
}

func (m *CloudWatchMetrics) IncConversationsDeleted() {
	m.put(count("ConversationsDeleted"))
}

func (m *CloudWatchMetrics) IncMessagesExchanged() {
	m.put(count("MessagesExchanged"))
}

// ObserveGeneration records one generator call. errType is empty on success.
func (m *CloudWatchMetrics) ObserveGeneration(d time.Duration, errType string) {
	data := []types.MetricDatum{{
		MetricName: aws.String("GeneratorDuration"),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       types.StandardUnitMilliseconds,
	}}
	if errType != "" {
		failure := count("GeneratorFailures")
		failure.Dimensions = []types.Dimension{{Name: aws.String("Type"), Value: aws.String(errType)}}
		data = append(data, failure)
	}
	m.put(data...)
}

func count(name string) types.MetricDatum {
	return types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       types.StandardUnitCount,
	}
}

// put never fails the caller; a dropped datapoint is only logged.
func (m *CloudWatchMetrics) put(data ...types.MetricDatum) {
	if m == nil || m.client == nil {
		return
	}
	now := time.Now()
	for i := range data {
		data[i].Timestamp = aws.Time(now)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if _, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}); err != nil {
		m.logger.Warn("Failed to send metrics",
			zap.String("namespace", m.namespace),
			zap.String("metric", aws.ToString(data[0].MetricName)),
			zap.Error(err),
		)
	}
}
