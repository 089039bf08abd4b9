package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron"

	"jersey-dashboard/utils"
)

// Reload trigger names, passed to ReloadFunc and used as metric labels.
const (
	TriggerFile     = "file"
	TriggerSchedule = "schedule"
)

// ReloadFunc re-runs the pipeline. An error keeps the previous report live.
type ReloadFunc func(ctx context.Context, trigger string) error

// Reloader re-runs the pipeline when the input file changes or on a cron
// schedule. Both sources are optional.
type Reloader struct {
	logger   *utils.Logger
	path     string
	watch    bool
	schedule string
	debounce time.Duration
	reload   ReloadFunc
}

func NewReloader(logger *utils.Logger, path string, watch bool, schedule string, fn ReloadFunc) *Reloader {
	return &Reloader{
		logger:   logger,
		path:     path,
		watch:    watch,
		schedule: schedule,
		debounce: 500 * time.Millisecond,
		reload:   fn,
	}
}

// Enabled reports whether any reload source is configured.
func (r *Reloader) Enabled() bool {
	return r.watch || r.schedule != ""
}

// Run blocks until ctx is done. Setup errors (bad schedule, unwatchable
// directory) are returned immediately.
func (r *Reloader) Run(ctx context.Context) error {
	triggers := make(chan string, 1)
	send := func(name string) {
		select {
		case triggers <- name:
		default:
		}
	}

	if r.schedule != "" {
		c := cron.New()
		if err := c.AddFunc(r.schedule, func() { send(TriggerSchedule) }); err != nil {
			return fmt.Errorf("reload: schedule %q: %w", r.schedule, err)
		}
		c.Start()
		defer c.Stop()
		r.logger.Info("[reload] Scheduled reload: %s", r.schedule)
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	target, err := filepath.Abs(r.path)
	if err != nil {
		return fmt.Errorf("reload: resolve %q: %w", r.path, err)
	}
	if r.watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("reload: watcher: %w", err)
		}
		defer w.Close()
		// Watch the directory: editors often replace the file instead of writing it.
		if err := w.Add(filepath.Dir(target)); err != nil {
			return fmt.Errorf("reload: watch %q: %w", filepath.Dir(target), err)
		}
		events, watchErrs = w.Events, w.Errors
		r.logger.Info("[reload] Watching %s", target)
	}

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			name, _ := filepath.Abs(ev.Name)
			if name != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			r.logger.Debug("[reload] %s: %s", ev.Op, ev.Name)
			debounce.Reset(r.debounce)
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			r.logger.Warn("[reload] Watcher error: %v", err)
		case <-debounce.C:
			send(TriggerFile)
		case trigger := <-triggers:
			if err := r.reload(ctx, trigger); err != nil {
				r.logger.Error("[reload] Reload (%s) failed, keeping previous report: %v", trigger, err)
			}
		}
	}
}
