package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// Metric names published under /debug/vars.
const (
	NumActiveClients = "NumActiveClients"
	NumActiveRooms   = "NumActiveRooms"
	NumMessages      = "NumMessages"
	NumMediaUpdates  = "NumMediaUpdates"
	NumFeedEvents    = "NumFeedEvents"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater applies counter updates on a single goroutine so request
// handlers never contend on the expvar map.
type StatsUpdater struct {
	vars     *expvar.Map
	updates  chan metricUpdate
	done     chan struct{}
	stopOnce sync.Once
}

type metricUpdate struct {
	name  string
	delta int64
}

// NewStatsUpdater creates a stats updater and mounts its handler on mux.
// The expvar map is published once per process, so repeated calls share it.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    publishedMap("synqup-stats"),
		updates: make(chan metricUpdate, 512),
		done:    make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.serveVars))

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
	su.vars.Set("Goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	return su
}

func publishedMap(name string) *expvar.Map {
	if v, ok := expvar.Get(name).(*expvar.Map); ok {
		return v
	}
	return expvar.NewMap(name)
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	body := make(map[string]json.RawMessage)
	su.vars.Do(func(kv expvar.KeyValue) {
		body[kv.Key] = json.RawMessage(kv.Value.String())
	})

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(body)
}

// RegisterMetric resets name to zero so it is listed before its first update.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Incr(name string) {
	su.add(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.add(name, -1)
}

// add drops the update once the updater is stopped.
func (su *StatsUpdater) add(name string, delta int64) {
	select {
	case su.updates <- metricUpdate{name: name, delta: delta}:
	case <-su.done:
	}
}

func (su *StatsUpdater) Run() {
	go su.apply()
}

func (su *StatsUpdater) apply() {
	for {
		select {
		case u := <-su.updates:
			su.vars.Add(u.name, u.delta)
		case <-su.done:
			for {
				select {
				case u := <-su.updates:
					su.vars.Add(u.name, u.delta)
				default:
					return
				}
			}
		}
	}
}

// Stop flushes queued updates and stops the updater. It is safe to call
// more than once.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.done) })
}
