package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gas/internal/accounts"
	"gas/internal/annotation"
	"gas/internal/broker"
	"gas/internal/config"
	"gas/internal/jobs"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/notifications"
	"gas/internal/objectstore"
	"gas/internal/pipeline"
	"gas/internal/scratch"
	"gas/internal/services"
	"gas/internal/testsupport"
	"gas/internal/vault"
)

const (
	freeUser    = "U-free"
	premiumUser = "U-premium"
)

type recordingNotifier struct {
	mu       sync.Mutex
	ready    []notifications.ResultReady
	restored []notifications.Restored
	err      error
}

func (r *recordingNotifier) NotifyResultReady(_ context.Context, event notifications.ResultReady) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ready = append(r.ready, event)
	return nil
}

func (r *recordingNotifier) NotifyRestored(_ context.Context, event notifications.Restored) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restored = append(r.restored, event)
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

type failingRunner struct{}

func (failingRunner) Run(string) (annotation.Outputs, error) {
	return annotation.Outputs{}, fmt.Errorf("%w: annotator exited 1", services.ErrExternalTool)
}

type harness struct {
	cfg      *config.Config
	jobs     *jobs.Store
	broker   *broker.SQLite
	objects  objectstore.Store
	vault    *vault.Local
	accounts *accounts.Static
	notifier *recordingNotifier
	deps     pipeline.Deps
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	objects := testsupport.MustOpenObjects(t, cfg)
	h := &harness{
		cfg:     cfg,
		jobs:    testsupport.MustOpenStore(t, cfg),
		broker:  testsupport.MustOpenBroker(t, cfg),
		objects: objects,
		vault:   testsupport.MustOpenVault(t, cfg, objects),
		accounts: accounts.NewStatic(
			accounts.Profile{UserID: freeUser, Name: "Free User", Email: "free@example.org", Tier: accounts.TierFree},
			accounts.Profile{UserID: premiumUser, Name: "Premium User", Email: "premium@example.org", Tier: accounts.TierPremium},
		),
		notifier: &recordingNotifier{},
	}
	h.deps = pipeline.Deps{
		Config:   cfg,
		Jobs:     h.jobs,
		Broker:   h.broker,
		Objects:  objects,
		Vault:    h.vault,
		Accounts: h.accounts,
		Notifier: h.notifier,
		Runner:   annotation.InProcessRunner{},
		Scratch:  scratch.NewManager(cfg.Paths.ScratchDir, 0),
		Logger:   logging.NewNop(),
	}
	return h
}

// upload places a sample input in the inputs bucket and returns its key.
func (h *harness) upload(t *testing.T, userID, jobID, fileName string) string {
	t.Helper()
	key := "gas/" + userID + "/" + jobID + "~" + fileName
	testsupport.MustPutObject(t, h.objects, h.cfg.ObjectStore.InputsBucket, key, testsupport.SampleVCF)
	return key
}

// submit uploads an input and records the job through the submission stage.
func (h *harness) submit(t *testing.T, userID, jobID string) *jobs.Job {
	t.Helper()
	key := h.upload(t, userID, jobID, "sample.vcf")
	job, err := pipeline.NewSubmitter(h.deps).Submit(context.Background(), messages.UploadCompleted{
		Bucket: h.cfg.ObjectStore.InputsBucket,
		Key:    key,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return job
}

func (h *harness) consumer(handler pipeline.Handler, queue string) *pipeline.Consumer {
	return pipeline.NewConsumer(h.broker, handler, pipeline.ConsumerOptions{
		Queue:         queue,
		Visibility:    time.Minute,
		LeaseInterval: time.Minute,
		Logger:        logging.NewNop(),
	})
}

// poll runs one consumer cycle of handler against queue.
func (h *harness) poll(t *testing.T, handler pipeline.Handler, queue string) (pipeline.Outcome, error) {
	t.Helper()
	return h.consumer(handler, queue).Poll(context.Background())
}

// mustPoll runs one cycle and fails unless it produced want.
func (h *harness) mustPoll(t *testing.T, handler pipeline.Handler, queue string, want pipeline.Outcome) {
	t.Helper()
	got, err := h.poll(t, handler, queue)
	if got != want {
		t.Fatalf("poll %s: outcome %s (err %v), want %s", queue, got, err, want)
	}
}

// process submits and fully processes a job for userID.
func (h *harness) process(t *testing.T, userID, jobID string) *jobs.Job {
	t.Helper()
	h.submit(t, userID, jobID)
	h.mustPoll(t, pipeline.NewProcessor(h.deps), h.cfg.Queues.Requests, pipeline.OutcomeAcked)
	return h.mustGet(t, jobID)
}

func (h *harness) mustGet(t *testing.T, jobID string) *jobs.Job {
	t.Helper()
	job, err := h.jobs.Get(context.Background(), jobID)
	if err != nil || job == nil {
		t.Fatalf("get %s: job=%v err=%v", jobID, job, err)
	}
	return job
}

func (h *harness) queueStats(t *testing.T, queue string) broker.QueueStats {
	t.Helper()
	stats, err := h.broker.Stats(context.Background(), queue)
	if err != nil {
		t.Fatalf("stats %s: %v", queue, err)
	}
	return stats
}

func (h *harness) publish(t *testing.T, queue string, payload any) {
	t.Helper()
	body, err := messages.Encode(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := h.broker.Publish(context.Background(), queue, body); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
