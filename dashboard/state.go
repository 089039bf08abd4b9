package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"jersey-dashboard/models"
	"jersey-dashboard/services"
	"jersey-dashboard/utils"
)

// Loader produces a fresh report. *services.Pipeline satisfies it.
type Loader interface {
	Run(ctx context.Context) (*services.LoadResult, error)
}

// retainedSnapshots is how many reports keep their charts servable. A page
// rendered just before a reload still fetches charts of its own report.
const retainedSnapshots = 3

var (
	ErrReportGone   = errors.New("report no longer available")
	ErrUnknownChart = errors.New("unknown chart")
)

// snapshot is an immutable report plus its rendered charts. previous links
// to older snapshots, at most retainedSnapshots in total.
type snapshot struct {
	report   *models.DashboardReport
	charts   ChartSet
	previous *snapshot
}

// retain returns a copy of the chain starting at s, cut to n snapshots.
func (s *snapshot) retain(n int) *snapshot {
	if s == nil || n <= 0 {
		return nil
	}
	return &snapshot{report: s.report, charts: s.charts, previous: s.previous.retain(n - 1)}
}

// State holds the report currently served. Readers never block; loads are
// serialised and only swap the snapshot once charts rendered successfully.
type State struct {
	loader  Loader
	charts  *ChartRenderer
	metrics *Metrics
	logger  *utils.Logger
	loadMu  sync.Mutex
	current atomic.Pointer[snapshot]
}

func NewState(loader Loader, charts *ChartRenderer, metrics *Metrics, logger *utils.Logger) *State {
	return &State{loader: loader, charts: charts, metrics: metrics, logger: logger}
}

// Load runs the pipeline and publishes the result. On error the previous
// snapshot stays live.
func (s *State) Load(ctx context.Context) (*services.LoadResult, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	res, err := s.loader.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.publish(res.Report); err != nil {
		return nil, err
	}
	s.metrics.ObserveLoad(res)
	s.logger.Info("[state] Report %s live: %d listings (%d dropped) in %v",
		res.Report.ID, res.Report.TotalListings, res.Report.DroppedRows, res.Took)
	return res, nil
}

// Reload is a services.ReloadFunc.
func (s *State) Reload(ctx context.Context, trigger string) error {
	_, err := s.Load(ctx)
	s.metrics.ObserveReload(trigger, err)
	return err
}

// Publish renders charts for report and makes it current.
func (s *State) Publish(report *models.DashboardReport) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.publish(report)
}

func (s *State) publish(report *models.DashboardReport) error {
	charts, err := s.charts.RenderAll(report)
	if err != nil {
		return fmt.Errorf("render charts: %w", err)
	}
	s.current.Store(&snapshot{
		report:   report,
		charts:   charts,
		previous: s.current.Load().retain(retainedSnapshots - 1),
	})
	return nil
}

// Report returns the current report, or nil before the first load.
func (s *State) Report() *models.DashboardReport {
	if snap := s.current.Load(); snap != nil {
		return snap.report
	}
	return nil
}

// Chart returns the SVG for name rendered from report reportID. An empty
// reportID selects the current report.
func (s *State) Chart(reportID, name string) ([]byte, error) {
	snap := s.current.Load()
	for reportID != "" && snap != nil && snap.report.ID != reportID {
		snap = snap.previous
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: %q", ErrReportGone, reportID)
	}
	svg, ok := snap.charts[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownChart, name)
	}
	return svg, nil
}
