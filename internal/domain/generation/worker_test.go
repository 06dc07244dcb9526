package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/pkg/aigen"
	"github.com/adgen/adgen-api/internal/pkg/imaging"
)

type fakeJobStore struct {
	mu        sync.Mutex
	queue     []*Job
	completed []Output
	failed    []string
	stale       []*Job
	lostClaim   bool
	completeErr error
}

func (s *fakeJobStore) ClaimNext(_ context.Context, workerID string, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, nil
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	job.Status = StatusProcessing
	job.WorkerID = &workerID
	job.StartedAt = &now
	return job, nil
}

func (s *fakeJobStore) Complete(_ context.Context, job *Job, _ string, out Output, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lostClaim {
		return ErrClaimLost
	}
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed = append(s.completed, out)
	job.Status = StatusCompleted
	job.ResultURL = out.URL
	job.ResultKey = out.Key
	job.FinishedAt = &now
	return nil
}

func (s *fakeJobStore) Fail(_ context.Context, job *Job, _ string, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, reason)
	job.Status = StatusFailed
	job.Error = &reason
	job.CreditRefunded = true
	job.FinishedAt = &now
	return nil
}

func (s *fakeJobStore) FailStale(_ context.Context, cutoff, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0)
	for _, job := range s.stale {
		if job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			reason := "generation timed out"
			job.Status = StatusFailed
			job.Error = &reason
			job.CreditRefunded = true
			out = append(out, job)
		}
	}
	return out, nil
}

type fakeGenerator struct {
	data  []byte
	err   error
	calls int
	last  aigen.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req aigen.Request) (*aigen.Result, error) {
	g.calls++
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return &aigen.Result{Data: g.data, ContentType: "image/png"}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (s *fakeStorage) Put(_ context.Context, key string, r io.Reader, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStorage) GetURL(key string) string {
	return "https://cdn.example/" + key
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Status)
	}
	return out
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(x * 8), B: uint8(y * 8), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type workerFixture struct {
	jobs      *fakeJobStore
	generator *fakeGenerator
	storage   *fakeStorage
	events    *recordingPublisher
	worker    *Worker
	job       *Job
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := &workerFixture{
		jobs:      &fakeJobStore{},
		generator: &fakeGenerator{data: testPNG(t)},
		storage:   newFakeStorage(),
		events:    &recordingPublisher{},
	}
	f.job = &Job{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		ReservationID:   uuid.New(),
		Status:          StatusPending,
		Prompt:          "a bottle of perfume on marble",
		Model:           "image-standard",
		ReferenceImages: []string{"https://cdn.example/ref.png"},
	}
	f.jobs.queue = []*Job{f.job}
	f.worker = NewWorker(f.jobs, f.generator, imaging.NewProcessor(imaging.DefaultConfig()), f.storage, f.events, nil,
		WorkerConfig{ID: "worker-test", GenerateTimeout: time.Second})
	return f
}

func equalStatuses(got []Status, want ...Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

/* ===== Test 1: successful generation is stored and completed ===== */
func TestWorkerCompletesJob(t *testing.T) {
	f := newWorkerFixture(t)

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil || !processed {
		t.Fatalf("expected a processed job, processed=%v err=%v", processed, err)
	}

	if f.generator.last.Prompt != f.job.Prompt || f.generator.last.Model != f.job.Model || len(f.generator.last.ReferenceImages) != 1 {
		t.Fatalf("unexpected generator request: %+v", f.generator.last)
	}
	if len(f.jobs.completed) != 1 || len(f.jobs.failed) != 0 {
		t.Fatalf("expected one completion, got completed=%d failed=%d", len(f.jobs.completed), len(f.jobs.failed))
	}

	key := fmt.Sprintf("generations/%s/%s.jpg", f.job.UserID, f.job.ID)
	out := f.jobs.completed[0]
	if out.Key == nil || *out.Key != key {
		t.Fatalf("unexpected result key: %v", out.Key)
	}
	if out.URL == nil || *out.URL != "https://cdn.example/"+key {
		t.Fatalf("unexpected result url: %v", out.URL)
	}
	if ok, _ := f.storage.Exists(context.Background(), key); !ok {
		t.Fatalf("expected image at %s", key)
	}
	thumb := fmt.Sprintf("generations/%s/%s_thumb.jpg", f.job.UserID, f.job.ID)
	if ok, _ := f.storage.Exists(context.Background(), thumb); !ok {
		t.Fatalf("expected thumbnail at %s", thumb)
	}

	if got := f.events.statuses(); !equalStatuses(got, StatusProcessing, StatusCompleted) {
		t.Fatalf("unexpected events: %v", got)
	}
}

/* ===== Test 2: upstream failure fails the job and refunds ===== */
func TestWorkerUpstreamFailureRefunds(t *testing.T) {
	f := newWorkerFixture(t)
	f.generator.err = fmt.Errorf("%w: status=500", aigen.ErrUpstream)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if len(f.jobs.failed) != 1 || len(f.jobs.completed) != 0 {
		t.Fatalf("expected one failure, got completed=%d failed=%d", len(f.jobs.completed), len(f.jobs.failed))
	}
	if f.jobs.failed[0] != "generation failed" {
		t.Fatalf("unexpected failure reason %q", f.jobs.failed[0])
	}
	if len(f.storage.objects) != 0 {
		t.Fatalf("nothing should be uploaded on failure")
	}

	if got := f.events.statuses(); !equalStatuses(got, StatusProcessing, StatusFailed) {
		t.Fatalf("unexpected events: %v", got)
	}
	last := f.events.events[len(f.events.events)-1]
	if !last.CreditRefunded {
		t.Fatalf("failed event must report the refund")
	}
}

/* ===== Test 3: timeouts are reported as such ===== */
func TestWorkerTimeoutReason(t *testing.T) {
	f := newWorkerFixture(t)
	f.generator.err = fmt.Errorf("%w: %w", aigen.ErrUpstream, aigen.ErrTimeout)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(f.jobs.failed) != 1 || f.jobs.failed[0] != "generation timed out" {
		t.Fatalf("expected timeout failure, got %v", f.jobs.failed)
	}
}

/* ===== Test 4: undecodable output counts as an upstream failure ===== */
func TestWorkerUndecodableImageRefunds(t *testing.T) {
	f := newWorkerFixture(t)
	f.generator.data = []byte("<html>oops</html>")

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(f.jobs.failed) != 1 || len(f.jobs.completed) != 0 {
		t.Fatalf("expected failure, got completed=%d failed=%d", len(f.jobs.completed), len(f.jobs.failed))
	}
}

/* ===== Test 5: storage failure still completes without a URL ===== */
func TestWorkerStorageFailureCompletesWithoutURL(t *testing.T) {
	f := newWorkerFixture(t)
	f.storage.putErr = errors.New("bucket unavailable")

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(f.jobs.completed) != 1 || len(f.jobs.failed) != 0 {
		t.Fatalf("expected completion, got completed=%d failed=%d", len(f.jobs.completed), len(f.jobs.failed))
	}
	if out := f.jobs.completed[0]; out.URL != nil || out.Key != nil {
		t.Fatalf("expected empty output, got %+v", out)
	}
	if f.job.CreditRefunded {
		t.Fatalf("storage failure must not refund")
	}
}

/* ===== Test 6: a reclaimed job discards its upload ===== */
func TestWorkerLostClaimDeletesUpload(t *testing.T) {
	f := newWorkerFixture(t)
	f.jobs.lostClaim = true

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	key := fmt.Sprintf("generations/%s/%s.jpg", f.job.UserID, f.job.ID)
	if len(f.storage.deleted) != 1 || f.storage.deleted[0] != key {
		t.Fatalf("expected %s to be deleted, got %v", key, f.storage.deleted)
	}
	if got := f.events.statuses(); !equalStatuses(got, StatusProcessing) {
		t.Fatalf("no completion event expected, got %v", got)
	}
}

/* ===== Test 7: a completion the store rejects still ends the job ===== */
func TestWorkerCompleteErrorFailsJob(t *testing.T) {
	f := newWorkerFixture(t)
	f.jobs.completeErr = credit.ErrReservationSettled

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(f.jobs.completed) != 0 || len(f.jobs.failed) != 1 {
		t.Fatalf("expected the job to fail, got completed=%d failed=%d", len(f.jobs.completed), len(f.jobs.failed))
	}
	if f.job.Status != StatusFailed {
		t.Fatalf("expected failed job, got %s", f.job.Status)
	}
	key := fmt.Sprintf("generations/%s/%s.jpg", f.job.UserID, f.job.ID)
	if len(f.storage.deleted) != 1 || f.storage.deleted[0] != key {
		t.Fatalf("expected %s to be deleted, got %v", key, f.storage.deleted)
	}
	if got := f.events.statuses(); !equalStatuses(got, StatusProcessing, StatusFailed) {
		t.Fatalf("expected a terminal event, got %v", got)
	}
}

/* ===== Test 8: empty queue ===== */
func TestWorkerRunOnceEmptyQueue(t *testing.T) {
	f := newWorkerFixture(t)
	f.jobs.queue = nil

	processed, err := f.worker.RunOnce(context.Background())
	if err != nil || processed {
		t.Fatalf("expected no work, processed=%v err=%v", processed, err)
	}
	if f.generator.calls != 0 {
		t.Fatalf("generator must not be called")
	}
}

/* ===== Test 9: reaper fails jobs past the stale cutoff ===== */
func TestWorkerReap(t *testing.T) {
	f := newWorkerFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.worker.now = func() time.Time { return now }
	f.worker.cfg.StaleAfter = 10 * time.Minute

	old := now.Add(-11 * time.Minute)
	fresh := now.Add(-time.Minute)
	staleJob := &Job{ID: uuid.New(), UserID: uuid.New(), Status: StatusProcessing, StartedAt: &old}
	freshJob := &Job{ID: uuid.New(), UserID: uuid.New(), Status: StatusProcessing, StartedAt: &fresh}
	f.jobs.stale = []*Job{staleJob, freshJob}

	count, err := f.worker.Reap(context.Background())
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if count != 1 || staleJob.Status != StatusFailed || freshJob.Status != StatusProcessing {
		t.Fatalf("expected only the stale job to fail, count=%d", count)
	}
	if len(f.events.events) != 1 || f.events.events[0].JobID != staleJob.ID {
		t.Fatalf("expected one event for the stale job, got %+v", f.events.events)
	}
}

/* ===== Test 10: Run drains the queue and stops on cancel ===== */
func TestWorkerRunDrainsAndStops(t *testing.T) {
	f := newWorkerFixture(t)
	second := &Job{ID: uuid.New(), UserID: uuid.New(), ReservationID: uuid.New(), Prompt: "p", Model: "m"}
	f.jobs.queue = append(f.jobs.queue, second)
	f.worker.cfg.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.jobs.mu.Lock()
		n := len(f.jobs.completed)
		f.jobs.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected two completed jobs, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
