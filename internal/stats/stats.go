package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const mapName = "polyglot-stats"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	RegisterFunc(name string, fn func() any)
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq

	// mu guards stopped; senders hold it shared so Stop cannot close
	// updateChan under them.
	mu      sync.RWMutex
	stopped bool
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater and serves its counters on
// GET /debug/vars.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))

	// expvar names are process global; reuse the map if it was published already
	if v, ok := expvar.Get(mapName).(*expvar.Map); ok {
		su.vars = v
	} else {
		su.vars = expvar.NewMap(mapName)
	}
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric := su.vars.Get(req.name)
		if metric == nil {
			panic("metric not found: " + req.name)
		}

		metric.(*expvar.Int).Add(int64(req.value))
	}
}

// Incr and Decr are no-ops once the updater is stopped.
func (su *StatsUpdater) Incr(name string) {
	su.update(&metricsUpdateReq{name: name, value: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.update(&metricsUpdateReq{name: name, value: -1})
}

func (su *StatsUpdater) update(req *metricsUpdateReq) {
	su.mu.RLock()
	defer su.mu.RUnlock()

	if su.stopped {
		return
	}
	su.updateChan <- req
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// RegisterFunc publishes a value computed on every read, for gauges owned by
// another component.
func (su *StatsUpdater) RegisterFunc(name string, fn func() any) {
	su.vars.Set(name, expvar.Func(fn))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	su.mu.Lock()
	defer su.mu.Unlock()

	if su.stopped {
		return
	}
	su.stopped = true
	close(su.updateChan)
}
