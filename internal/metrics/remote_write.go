package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient() httpDoer {
	return &http.Client{Timeout: 30 * time.Second}
}

// StartRemoteWrite pushes all gathered metrics to Mimir every flush
// interval until ctx is done. It is a no-op without a configured URL.
func (c *Collector) StartRemoteWrite(ctx context.Context, logger *zap.Logger) {
	if c.config.URL == "" {
		return
	}

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeToMimir(ctx); err != nil {
				logger.Warn("Remote write failed", zap.Error(err))
			}
		}
	}
}

func (c *Collector) writeToMimir(ctx context.Context) error {
	// Gather metrics
	mfs, err := c.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	samples := metricsToSamples(mfs, time.Now())
	if len(samples) == 0 {
		return nil
	}

	batchSize := c.config.BatchSize
	if batchSize <= 0 {
		batchSize = len(samples)
	}
	for i := 0; i < len(samples); i += batchSize {
		end := i + batchSize
		if end > len(samples) {
			end = len(samples)
		}

		if err := c.sendBatch(ctx, samples[i:end]); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
	}

	return nil
}

func metricsToSamples(mfs []*dto.MetricFamily, at time.Time) []prompb.TimeSeries {
	var samples []prompb.TimeSeries
	timestamp := at.UnixNano() / int64(time.Millisecond)

	for _, mf := range mfs {
		for _, m := range mf.Metric {
			labels := make([]prompb.Label, 0, len(m.Label)+1)
			labels = append(labels, prompb.Label{
				Name:  "__name__",
				Value: mf.GetName(),
			})
			for _, l := range m.Label {
				labels = append(labels, prompb.Label{
					Name:  l.GetName(),
					Value: l.GetValue(),
				})
			}

			var value float64
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				value = m.Counter.GetValue()
			case dto.MetricType_GAUGE:
				value = m.Gauge.GetValue()
			case dto.MetricType_HISTOGRAM:
				hist := m.Histogram
				for _, bucket := range hist.Bucket {
					bucketLabels := append([]prompb.Label{}, labels...)
					bucketLabels[0].Value = mf.GetName() + "_bucket"
					bucketLabels = append(bucketLabels, prompb.Label{
						Name:  "le",
						Value: fmt.Sprintf("%g", bucket.GetUpperBound()),
					})

					samples = append(samples, prompb.TimeSeries{
						Labels: bucketLabels,
						Samples: []prompb.Sample{{
							Value:     float64(bucket.GetCumulativeCount()),
							Timestamp: timestamp,
						}},
					})
				}
				continue
			default:
				continue
			}

			samples = append(samples, prompb.TimeSeries{
				Labels: labels,
				Samples: []prompb.Sample{{
					Value:     value,
					Timestamp: timestamp,
				}},
			})
		}
	}

	return samples
}

func (c *Collector) sendBatch(ctx context.Context, samples []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{
		Timeseries: samples,
	}

	data, err := req.Marshal()
	if err != nil {
		return err
	}

	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+"/api/v1/push", bytes.NewReader(compressed))
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if c.config.Tenant != "" {
		httpReq.Header.Set(c.config.TenantHeader, c.config.Tenant)
	}
	if c.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write failed: %s", resp.Status)
	}

	return nil
}
