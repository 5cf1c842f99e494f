package ir

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorPredicatesUnwrap(t *testing.T) {
	insufficient := &InsufficientDataError{Task: "T1", Condition: Baseline, Metric: "welch_t_test", Reason: "1 observation"}
	undefined := &UndefinedMetricError{Task: "T1", Metric: "productivity", Reason: "zero baseline throughput"}

	assert.True(t, IsInsufficientData(fmt.Errorf("wrapped: %w", insufficient)))
	assert.False(t, IsInsufficientData(undefined))
	assert.True(t, IsUndefinedMetric(fmt.Errorf("wrapped: %w", undefined)))
	assert.False(t, IsUndefinedMetric(insufficient))
}

func TestInsufficientDataErrorScope(t *testing.T) {
	key := Key{Subject: "U1", Task: "T1", Condition: Prototype}

	keyed := &InsufficientDataError{Key: &key, Task: "T1", Reason: "no event log"}
	assert.Equal(t, "insufficient data (U1_prototype_T1): no event log", keyed.Error())

	metric := &InsufficientDataError{Task: "T1", Condition: Baseline, Metric: "km_time_reduction", Reason: "no participants"}
	assert.Equal(t, "insufficient data (task=T1 metric=km_time_reduction, condition=baseline): no participants", metric.Error())
}
