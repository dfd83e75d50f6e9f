package metric_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/audiograph/metric"
)

type meteredSource struct{}

type meteredSink struct{}

func TestMeter(t *testing.T) {
	var sampleRate uint32 = 44100
	tests := []struct {
		description        string
		component          interface{}
		routines           int
		transfers          int
		samples            int64
		expectedSamples    string
		expectedComponents string
	}{
		{
			description:        "value",
			component:          meteredSource{},
			routines:           2,
			transfers:          10,
			samples:            100,
			expectedSamples:    "2000",
			expectedComponents: "2",
		},
		{
			description:        "pointer of same type",
			component:          &meteredSource{},
			routines:           2,
			transfers:          10,
			samples:            100,
			expectedSamples:    "4000",
			expectedComponents: "4",
		},
		{
			description:        "named component",
			component:          "metric_test.named",
			routines:           3,
			transfers:          1,
			samples:            441,
			expectedSamples:    "1323",
			expectedComponents: "3",
		},
	}
	testFn := func(fn metric.MeasureFunc, wg *sync.WaitGroup, transfers int, samples int64) {
		for i := 0; i < transfers; i++ {
			fn(samples)
		}
		wg.Done()
	}

	for _, test := range tests {
		wg := &sync.WaitGroup{}
		wg.Add(test.routines)
		for i := 0; i < test.routines; i++ {
			go testFn(metric.Meter(test.component, sampleRate)(), wg, test.transfers, test.samples)
		}
		wg.Wait()
		values := metric.Get(test.component)
		assert.Equal(t, test.expectedSamples, values[metric.SampleCounter], test.description)
		assert.Equal(t, test.expectedComponents, values[metric.ComponentCounter], test.description)
	}
}

func TestCounters(t *testing.T) {
	c := &meteredSink{}
	metric.Underrun(c, 10)
	metric.Underrun(c, 5)
	metric.Overflow(c, 3)
	metric.Fault(c)

	values := metric.Get(c)
	assert.Equal(t, "15", values[metric.UnderrunCounter])
	assert.Equal(t, "3", values[metric.OverflowCounter])
	assert.Equal(t, "1", values[metric.FaultCounter])
	assert.Contains(t, metric.GetAll(), "metric_test.meteredSink")
}
