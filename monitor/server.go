// Package monitor serves translation cache statistics over HTTP: charts on
// /, a JSON summary on /stats and a live event stream on /ws.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/dkudinskas/hyparm-sub003/tcache"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const occupancyBuckets = 16

// Source is the cache the monitor observes.
type Source interface {
	Stats() tcache.Stats
	Entries() []tcache.Entry
	Subscribe(fn func(tcache.Event))
}

// Summary is the /stats document.
type Summary struct {
	Stats   tcache.Stats                `json:"stats"`
	Events  map[tcache.EventKind]uint64 `json:"events"`
	Dropped uint64                      `json:"dropped"`
	Clients int                         `json:"clients"`
}

// Server publishes one cache.
type Server struct {
	src Source
	hub *Hub

	mu      sync.Mutex
	events  map[tcache.EventKind]uint64
	dropped uint64
}

// NewServer subscribes to src. Call Start before serving /ws.
func NewServer(src Source) *Server {
	s := &Server{src: src, hub: newHub(), events: make(map[tcache.EventKind]uint64)}
	src.Subscribe(s.onEvent)
	return s
}

// onEvent runs with the cache locked, so it only counts and queues.
func (s *Server) onEvent(ev tcache.Event) {
	data, err := json.Marshal(ev)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.Kind]++
	if err != nil || !s.hub.publish(data) {
		s.dropped++
	}
}

// Summary snapshots the counters.
func (s *Server) Summary() Summary {
	st := s.src.Stats()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		Stats:   st,
		Events:  maps.Clone(s.events),
		Dropped: s.dropped,
		Clients: s.hub.Clients(),
	}
}

// Start runs the websocket hub until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.hub.run(ctx)
}

// Handler routes the monitor endpoints. ctx bounds websocket clients.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveCharts)
	mux.HandleFunc("/stats", s.serveStats)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.hub.serveWs(ctx, w, r)
	})
	return mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start(ctx)
	srv := &http.Server{Addr: addr, Handler: s.Handler(ctx), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	log.Info(log.MonitorMonitoring, "monitor listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.hub.wg.Wait()
	return nil
}

func (s *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Summary()); err != nil {
		log.Warn(log.MonitorMonitoring, "encode stats", "err", err)
	}
}

func (s *Server) serveCharts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page := components.NewPage()
	page.PageTitle = "translation cache"
	page.AddCharts(s.eventChart(), s.occupancyChart())
	if err := page.Render(w); err != nil {
		log.Warn(log.MonitorMonitoring, "render charts", "err", err)
	}
}

func (s *Server) eventChart() *charts.Bar {
	sum := s.Summary()
	kinds := make([]tcache.EventKind, 0, len(sum.Events))
	for k := range sum.Events {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	names := make([]string, 0, len(kinds))
	data := make([]opts.BarData, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
		data = append(data, opts.BarData{Value: sum.Events[k]})
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Cache events",
			Subtitle: fmt.Sprintf("%d valid, %d evictions, %d wraps", sum.Stats.Valid, sum.Stats.Evictions, sum.Stats.Wraps),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("events", data)
	return bar
}

// occupancyChart counts live entries per range of meta-cache slots.
func (s *Server) occupancyChart() *charts.Bar {
	entries := s.src.Entries()
	per := (len(entries) + occupancyBuckets - 1) / occupancyBuckets
	if per == 0 {
		per = 1
	}
	counts := make([]int, (len(entries)+per-1)/per)
	for i, e := range entries {
		if e.Valid() {
			counts[i/per]++
		}
	}
	names := make([]string, len(counts))
	data := make([]opts.BarData, len(counts))
	for b, n := range counts {
		names[b] = fmt.Sprintf("%d-%d", b*per, (b+1)*per-1)
		data[b] = opts.BarData{Value: n}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Meta-cache occupancy"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("live entries", data)
	return bar
}
