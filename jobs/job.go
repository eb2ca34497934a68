package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/omni/htlc-bridge/logging"
)

// MetricValues is one gauge sample: every key is a label, except ValueLabelTag holding the value.
type MetricValues map[string]string

const ValueLabelTag = "_value"

func (v MetricValues) Labels() prometheus.Labels {
	labels := make(prometheus.Labels, len(v))
	for k, val := range v {
		if k != ValueLabelTag {
			labels[k] = val
		}
	}
	return labels
}

func (v MetricValues) Value() float64 {
	val, ok := v[ValueLabelTag]
	if !ok {
		return 0
	}
	res, _ := strconv.ParseFloat(val, 64)
	return res
}

// ConvertToMetricValues flattens a slice of json tagged structs into gauge samples.
func ConvertToMetricValues(v interface{}) ([]MetricValues, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("can't marshal job values to json: %w", err)
	}
	var res []MetricValues
	if err = json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("can't unmarshal job values to []MetricValues: %w", err)
	}
	return res, nil
}

type Job struct {
	logger   logging.Logger
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	// RequireSynced skips iterations while the chain indexer lags behind.
	RequireSynced bool
	// Metric is reset and refilled from the values returned by Func, when set.
	Metric *prometheus.GaugeVec
	Func   func(ctx context.Context) (interface{}, error)
}

func (j *Job) Start(ctx context.Context, isSynced func() bool) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		if !j.RequireSynced || isSynced() {
			j.RunOnce(ctx)
		} else {
			j.logger.Warn("bridge monitor is not synchronized, skipping job iteration")
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes a single iteration of the job and publishes its result.
func (j *Job) RunOnce(ctx context.Context) {
	timeoutCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	start := time.Now()
	res, err := j.Func(timeoutCtx)
	cancel()
	JobRuns.WithLabelValues(j.Name, strconv.FormatBool(err == nil)).Inc()
	if err != nil {
		j.logger.WithError(err).Error("failed to process job")
		return
	}
	if j.Metric == nil {
		j.logger.WithFields(logrus.Fields{
			"result":   res,
			"duration": time.Since(start),
		}).Debug("job iteration finished")
		return
	}

	j.Metric.Reset()
	values, err := ConvertToMetricValues(res)
	if err != nil {
		j.logger.WithError(err).Error("can't convert to job metric values")
		return
	}
	if len(values) == 0 {
		j.logger.WithField("duration", time.Since(start)).Info("nothing has been found")
		return
	}
	j.logger.WithFields(logrus.Fields{
		"count":    len(values),
		"duration": time.Since(start),
	}).Warn("found some transfers requiring attention")
	for _, v := range values {
		j.Metric.With(v.Labels()).Set(v.Value())
	}
}
