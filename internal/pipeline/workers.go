package pipeline

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Worker names accepted by Deps.Worker.
const (
	WorkerSubmitter = "submitter"
	WorkerAnnotator = "annotator"
	WorkerNotifier  = "notifier"
	WorkerArchiver  = "archiver"
	WorkerRestorer  = "restorer"
	WorkerThawer    = "thawer"
)

// WorkerNames lists the stage workers in pipeline order.
func WorkerNames() []string {
	return []string{WorkerSubmitter, WorkerAnnotator, WorkerNotifier, WorkerArchiver, WorkerRestorer, WorkerThawer}
}

// Worker is a named long-running loop.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Worker builds the stage worker called name. The annotator worker runs the
// processing consumer and the stale-claim reaper together.
func (d Deps) Worker(name string) (Worker, error) {
	q := d.Config.Queues
	switch name {
	case WorkerSubmitter:
		return consumerWorker(name, d.NewConsumer(NewSubmitter(d), q.Uploads, 1)), nil
	case WorkerAnnotator:
		consumer := d.NewConsumer(NewProcessor(d), q.Requests, d.Config.Processing.MaxConcurrentJobs)
		reaper := NewReaper(d)
		return Worker{Name: name, Run: func(ctx context.Context) error {
			return Run(ctx,
				Worker{Name: "processing", Run: consumer.Run},
				Worker{Name: "reaper", Run: reaper.Run},
			)
		}}, nil
	case WorkerNotifier:
		return consumerWorker(name, d.NewConsumer(NewNotifier(d), q.Results, 1)), nil
	case WorkerArchiver:
		return consumerWorker(name, d.NewConsumer(NewArchiver(d), q.Archive, 1)), nil
	case WorkerRestorer:
		return consumerWorker(name, d.NewConsumer(NewRestorer(d), q.Restore, 1)), nil
	case WorkerThawer:
		return consumerWorker(name, d.NewConsumer(NewThawer(d), q.Thaw, 1)), nil
	default:
		return Worker{}, fmt.Errorf("unknown worker %q (want one of %v)", name, WorkerNames())
	}
}

// Workers builds every named worker, or all of them when names is empty.
func (d Deps) Workers(names ...string) ([]Worker, error) {
	if len(names) == 0 {
		names = WorkerNames()
	}
	workers := make([]Worker, 0, len(names))
	for _, name := range slices.Compact(slices.Clone(names)) {
		w, err := d.Worker(name)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// Run starts every worker in its own goroutine and returns when ctx is
// cancelled or the first worker fails.
func Run(ctx context.Context, workers ...Worker) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		group.Go(func() error {
			if err := w.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", w.Name, err)
			}
			return nil
		})
	}
	return group.Wait()
}

func consumerWorker(name string, c *Consumer) Worker {
	return Worker{Name: name, Run: c.Run}
}
