package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gas/internal/jobs"
	"gas/internal/messages"
	"gas/internal/pipeline"
	"gas/internal/services"
	"gas/internal/testsupport"
)

func TestProcessorCompletesJob(t *testing.T) {
	h := newHarness(t)
	job := h.process(t, freeUser, "J1")

	if job.Status != jobs.StatusCompleted || job.CompleteTime == 0 {
		t.Fatalf("expected completed job, got %+v", job)
	}
	if job.ResultKey != "gas/"+freeUser+"/J1~sample.vcf.annot" || job.LogKey != "gas/"+freeUser+"/J1~sample.vcf.count.log" {
		t.Fatalf("unexpected output keys %s %s", job.ResultKey, job.LogKey)
	}
	result := testsupport.MustReadObject(t, h.objects, h.cfg.ObjectStore.ResultsBucket, job.ResultKey)
	if !strings.Contains(result, "ANNOT") {
		t.Fatalf("result is not annotated:\n%s", result)
	}
	if log := testsupport.MustReadObject(t, h.objects, h.cfg.ObjectStore.ResultsBucket, job.LogKey); !strings.Contains(log, "variants\t3") {
		t.Fatalf("unexpected count log:\n%s", log)
	}

	for _, queue := range []string{h.cfg.Queues.Results, h.cfg.Queues.Archive} {
		var event messages.JobEvent
		if err := messages.Decode(testsupport.MustReceive(t, h.broker, queue).Body, &event); err != nil {
			t.Fatalf("decode %s: %v", queue, err)
		}
		if event.JobID != "J1" || event.UserID != freeUser || event.InputFileName != "sample.vcf" {
			t.Fatalf("unexpected event on %s: %+v", queue, event)
		}
	}

	if _, err := os.Stat(filepath.Join(h.cfg.Paths.ScratchDir, freeUser, "J1")); !os.IsNotExist(err) {
		t.Fatalf("expected scratch workspace removed, stat err=%v", err)
	}
}

func TestProcessorDuplicateDeliveryClaimsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	upload := messages.UploadCompleted{Bucket: h.cfg.ObjectStore.InputsBucket, Key: h.upload(t, freeUser, "J1", "a.vcf")}
	submitter := pipeline.NewSubmitter(h.deps)
	for range 2 {
		if _, err := submitter.Submit(ctx, upload); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	processor := pipeline.NewProcessor(h.deps)
	h.mustPoll(t, processor, h.cfg.Queues.Requests, pipeline.OutcomeAcked)
	first := h.mustGet(t, "J1")
	h.mustPoll(t, processor, h.cfg.Queues.Requests, pipeline.OutcomeAcked)
	second := h.mustGet(t, "J1")

	if second.ClaimCount != 1 {
		t.Fatalf("expected a single claim, got %d", second.ClaimCount)
	}
	if second.CompleteTime != first.CompleteTime || second.Status != jobs.StatusCompleted {
		t.Fatalf("duplicate delivery changed the completion: %+v vs %+v", first, second)
	}
	for _, queue := range []string{h.cfg.Queues.Results, h.cfg.Queues.Archive} {
		if got := h.queueStats(t, queue).Visible; got != 1 {
			t.Fatalf("duplicate delivery re-published fan-out: %d messages on %s", got, queue)
		}
	}
}

func TestProcessorConcurrentDuplicatesNotifyOnce(t *testing.T) {
	h := newHarness(t)
	h.submit(t, freeUser, "J1")
	testsupport.MustReceive(t, h.broker, h.cfg.Queues.Requests)
	req := messages.ProcessingRequest{
		JobID: "J1", UserID: freeUser, InputFileName: "sample.vcf",
		InputsBucket: h.cfg.ObjectStore.InputsBucket, InputKey: "gas/" + freeUser + "/J1~sample.vcf",
		SubmitTime: time.Now().Unix(), JobStatus: messages.JobStatusPending,
	}
	processor := pipeline.NewProcessor(h.deps)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = processor.Process(context.Background(), req)
		}()
	}
	wg.Wait()
	// Deliveries that lost the scratch lock or the live claim ack without
	// work; re-deliver once more now that the job is finished.
	if err := processor.Process(context.Background(), req); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if job := h.mustGet(t, "J1"); job.Status != jobs.StatusCompleted || !job.FannedOut {
		t.Fatalf("expected a completed, fanned-out job, got %+v", job)
	}
	if got := h.queueStats(t, h.cfg.Queues.Results).Visible; got != 1 {
		t.Fatalf("expected one result-ready message, got %d", got)
	}
}

func TestProcessorRepublishesInterruptedFanOut(t *testing.T) {
	h := newHarness(t)
	h.submit(t, freeUser, "J1")
	testsupport.MustReceive(t, h.broker, h.cfg.Queues.Requests)
	ctx := context.Background()
	// A worker completed the job and crashed before publishing.
	if _, err := h.jobs.Claim(ctx, "J1", time.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := h.jobs.Complete(ctx, "J1", jobs.Completion{
		ResultsBucket: h.cfg.ObjectStore.ResultsBucket, ResultKey: "gas/U-free/J1~sample.annot.vcf",
		LogKey: "gas/U-free/J1~sample.vcf.count.log", CompleteTime: time.Now(),
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	h.publish(t, h.cfg.Queues.Requests, messages.ProcessingRequest{
		JobID: "J1", UserID: freeUser, InputFileName: "sample.vcf",
		InputsBucket: h.cfg.ObjectStore.InputsBucket, InputKey: "gas/" + freeUser + "/J1~sample.vcf",
		SubmitTime: time.Now().Unix(), JobStatus: messages.JobStatusPending,
	})
	h.mustPoll(t, pipeline.NewProcessor(h.deps), h.cfg.Queues.Requests, pipeline.OutcomeAcked)
	if got := h.queueStats(t, h.cfg.Queues.Results).Visible; got != 1 {
		t.Fatalf("expected the interrupted fan-out to be published, got %d", got)
	}
	if !h.mustGet(t, "J1").FannedOut {
		t.Fatalf("expected fan-out to be recorded")
	}
}

func TestProcessorLiveClaimIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.submit(t, freeUser, "J1")
	if outcome, err := h.jobs.Claim(context.Background(), "J1", time.Now().Add(-time.Hour)); err != nil || !outcome.Won() {
		t.Fatalf("Claim: %s %v", outcome, err)
	}

	h.mustPoll(t, pipeline.NewProcessor(h.deps), h.cfg.Queues.Requests, pipeline.OutcomeAcked)
	job := h.mustGet(t, "J1")
	if job.Status != jobs.StatusRunning || job.ClaimCount != 1 {
		t.Fatalf("live claim should be left alone, got %+v", job)
	}
	testsupport.AssertQueueEmpty(t, h.broker, h.cfg.Queues.Results)
}

func TestProcessorUnknownJobDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.publish(t, h.cfg.Queues.Requests, messages.ProcessingRequest{
		JobID:         "ghost",
		UserID:        freeUser,
		InputFileName: "a.vcf",
		InputsBucket:  h.cfg.ObjectStore.InputsBucket,
		InputKey:      "gas/" + freeUser + "/ghost~a.vcf",
		JobStatus:     messages.JobStatusPending,
	})
	outcome, err := h.poll(t, pipeline.NewProcessor(h.deps), h.cfg.Queues.Requests)
	if outcome != pipeline.OutcomeDeadLettered || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected dead-lettered not-found, got %s %v", outcome, err)
	}
}

func TestProcessorMalformedRequestDeadLetters(t *testing.T) {
	h := newHarness(t)
	h.publish(t, h.cfg.Queues.Requests, messages.ProcessingRequest{JobID: "J1"})
	h.mustPoll(t, pipeline.NewProcessor(h.deps), h.cfg.Queues.Requests, pipeline.OutcomeDeadLettered)

	if _, err := h.broker.Publish(context.Background(), h.cfg.Queues.Requests, []byte("not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	h.mustPoll(t, pipeline.NewProcessor(h.deps), h.cfg.Queues.Requests, pipeline.OutcomeDeadLettered)
}

func TestProcessorFailureReleasesClaimForRetry(t *testing.T) {
	h := newHarness(t)
	h.submit(t, freeUser, "J1")

	failing := h.deps
	failing.Runner = failingRunner{}
	outcome, err := h.poll(t, pipeline.NewProcessor(failing), h.cfg.Queues.Requests)
	if outcome != pipeline.OutcomeRetry || !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected retry on runner failure, got %s %v", outcome, err)
	}
	job := h.mustGet(t, "J1")
	if job.Status != jobs.StatusRunning || !job.LastHeartbeat.IsZero() {
		t.Fatalf("expected released running claim, got %+v", job)
	}
	if testsupport.ObjectExists(t, h.objects, h.cfg.ObjectStore.ResultsBucket, "gas/"+freeUser+"/J1~sample.vcf.annot") {
		t.Fatalf("no result should be uploaded on failure")
	}

	req := messages.ProcessingRequest{
		JobID:         job.JobID,
		UserID:        job.UserID,
		InputFileName: job.InputFileName,
		InputsBucket:  job.InputsBucket,
		InputKey:      job.InputKey,
	}
	if err := pipeline.NewProcessor(h.deps).Process(context.Background(), req); err != nil {
		t.Fatalf("retry Process: %v", err)
	}
	job = h.mustGet(t, "J1")
	if job.Status != jobs.StatusCompleted || job.ClaimCount != 2 {
		t.Fatalf("expected reclaimed and completed job, got %+v", job)
	}
}

func TestProcessorMissingInputDeadLetters(t *testing.T) {
	h := newHarness(t)
	if _, err := pipeline.NewSubmitter(h.deps).Submit(context.Background(), messages.UploadCompleted{
		Bucket: h.cfg.ObjectStore.InputsBucket,
		Key:    "gas/" + freeUser + "/J1~missing.vcf",
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outcome, err := h.poll(t, pipeline.NewProcessor(h.deps), h.cfg.Queues.Requests)
	if outcome != pipeline.OutcomeDeadLettered || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected missing input to dead-letter, got %s %v", outcome, err)
	}
}

func TestReaperRequeuesStaleClaims(t *testing.T) {
	h := newHarness(t)
	h.submit(t, freeUser, "J1")
	testsupport.MustReceive(t, h.broker, h.cfg.Queues.Requests) // consumed by a worker that then crashed
	if _, err := h.jobs.Claim(context.Background(), "J1", time.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	later := h.deps
	later.Now = func() time.Time { return time.Now().Add(h.cfg.Processing.HeartbeatTimeout() + time.Minute) }
	requeued, err := pipeline.NewReaper(later).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected one job re-queued, got %d", requeued)
	}

	fresh, err := pipeline.NewReaper(h.deps).Tick(context.Background())
	if err != nil || fresh != 0 {
		t.Fatalf("live claim must not be re-queued: %d %v", fresh, err)
	}

	h.mustPoll(t, pipeline.NewProcessor(later), h.cfg.Queues.Requests, pipeline.OutcomeAcked)
	if job := h.mustGet(t, "J1"); job.Status != jobs.StatusCompleted {
		t.Fatalf("expected reaped job to complete, got %s", job.Status)
	}
}

func TestReaperStopsAfterMaxClaims(t *testing.T) {
	h := newHarness(t)
	h.cfg.Broker.MaxReceiveCount = 1
	h.submit(t, freeUser, "J1")
	if _, err := h.jobs.Claim(context.Background(), "J1", time.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	later := h.deps
	later.Now = func() time.Time { return time.Now().Add(h.cfg.Processing.HeartbeatTimeout() + time.Minute) }
	requeued, err := pipeline.NewReaper(later).Tick(context.Background())
	if err != nil || requeued != 0 {
		t.Fatalf("expected exhausted job to be skipped, got %d %v", requeued, err)
	}
}

func TestReaperCapsClaimsWithoutReceiveLimit(t *testing.T) {
	h := newHarness(t)
	h.cfg.Broker.MaxReceiveCount = 0
	h.submit(t, freeUser, "J1")
	ctx := context.Background()
	later := h.deps
	later.Now = func() time.Time { return time.Now().Add(h.cfg.Processing.HeartbeatTimeout() + time.Minute) }
	reaper := pipeline.NewReaper(later)

	// Each sweep re-queues a poison job whose worker keeps dying mid-run.
	sweeps := 0
	for range 20 {
		if _, err := h.jobs.Claim(ctx, "J1", later.Now()); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		requeued, err := reaper.Tick(ctx)
		if err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if requeued == 0 {
			break
		}
		sweeps++
	}
	if want := h.cfg.Broker.ClaimLimit() - 1; sweeps != want {
		t.Fatalf("expected the reaper to stop after %d re-queues, got %d", want, sweeps)
	}
}
