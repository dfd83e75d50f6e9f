// Package metric publishes counters of graph components with expvar. Each
// component type gets its own expvar map named "audiograph.<type>".
package metric

import (
	"expvar"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

const prefix = "audiograph."

// Counter names.
const (
	// MessageCounter measures number of transfers.
	MessageCounter = "Messages"
	// SampleCounter measures number of samples per channel.
	SampleCounter = "Samples"
	// LatencyCounter is the time elapsed between last two transfers.
	LatencyCounter = "Latency"
	// DurationCounter is the duration of transferred signal.
	DurationCounter = "Duration"
	// ComponentCounter counts meters created for the component type.
	ComponentCounter = "Components"
	// UnderrunCounter counts samples that were not available on time.
	UnderrunCounter = "Underruns"
	// OverflowCounter counts samples dropped because a buffer was full.
	OverflowCounter = "Overflows"
	// FaultCounter counts transfer faults.
	FaultCounter = "Faults"
)

// registry holds published sets by component type. Sets are never removed
// because expvar can not unpublish.
var registry sync.Map

type set struct {
	vars     *expvar.Map
	latency  *duration
	duration *duration
}

func lookup(componentType string) *set {
	if s, ok := registry.Load(componentType); ok {
		return s.(*set)
	}
	s := &set{
		vars:     new(expvar.Map),
		latency:  &duration{},
		duration: &duration{},
	}
	s.vars.Set(LatencyCounter, s.latency)
	s.vars.Set(DurationCounter, s.duration)
	actual, loaded := registry.LoadOrStore(componentType, s)
	if !loaded {
		expvar.Publish(prefix+componentType, s.vars)
	}
	return actual.(*set)
}

// Get returns counter values of the component type. Component can be a
// value, a pointer or a type name string.
func Get(component interface{}) map[string]string {
	values := make(map[string]string)
	s, ok := registry.Load(getType(component))
	if !ok {
		return values
	}
	s.(*set).vars.Do(func(kv expvar.KeyValue) {
		values[kv.Key] = kv.Value.String()
	})
	return values
}

// GetAll returns counters of every measured component type.
func GetAll() map[string]map[string]string {
	all := make(map[string]map[string]string)
	registry.Range(func(k, _ any) bool {
		all[k.(string)] = Get(k.(string))
		return true
	})
	return all
}

// ResetFunc returns new MeasureFunc. Latency is measured from the moment
// ResetFunc is called, so it should be called when component starts.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when a transfer of samples per channel is
// done.
type MeasureFunc func(samples int64)

// Meter registers one more meter of component type and returns a closure
// to start measuring.
func Meter(component interface{}, sampleRate uint32) ResetFunc {
	s := lookup(getType(component))
	s.vars.Add(ComponentCounter, 1)
	return func() MeasureFunc {
		last := time.Now()
		var (
			size int64
			step time.Duration
		)
		return func(n int64) {
			now := time.Now()
			s.latency.set(now.Sub(last))
			s.vars.Add(MessageCounter, 1)
			s.vars.Add(SampleCounter, n)
			if size != n {
				size, step = n, durationOf(sampleRate, n)
			}
			s.duration.add(step)
			last = now
		}
	}
}

// Underrun adds n samples that component could not provide on time.
func Underrun(component interface{}, n int64) {
	lookup(getType(component)).vars.Add(UnderrunCounter, n)
}

// Overflow adds n samples that component dropped.
func Overflow(component interface{}, n int64) {
	lookup(getType(component)).vars.Add(OverflowCounter, n)
}

// Fault counts a transfer fault of component.
func Fault(component interface{}) {
	lookup(getType(component)).vars.Add(FaultCounter, 1)
}

func durationOf(sampleRate uint32, samples int64) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// getType returns "pkg.Type" of the component. Strings are used as is.
func getType(component interface{}) string {
	if name, ok := component.(string); ok {
		return name
	}
	t := reflect.TypeOf(component)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

type duration struct {
	ns atomic.Int64
}

// String implements expvar.Var.
func (d *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(d.ns.Load()))
}

func (d *duration) add(delta time.Duration) {
	d.ns.Add(int64(delta))
}

func (d *duration) set(value time.Duration) {
	d.ns.Store(int64(value))
}
