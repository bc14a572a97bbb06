package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterWorkerReplacesOnRestart(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	registerTestWorker(t, q, "w1")
	if _, err := q.Enqueue(ctx, EnqueueRequest{FileVersionID: "fv1", Plugin: "p"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Claim(ctx, "w1", 1000); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A restarted worker re-registers under the same host with a new pid.
	err := q.RegisterWorker(ctx, Worker{Host: "w1", PID: 2000, Addr: "w1:0", EnvSignature: "sig-b"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}

	w, err := q.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if w.PID != 2000 || w.EnvSignature != "sig-b" {
		t.Fatalf("re-registered worker: %#v", w)
	}
	if w.Status != WorkerIdle || w.CurrentJobID != nil {
		t.Fatalf("re-registration kept stale assignment: %#v", w)
	}
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)

	err := q.Heartbeat(context.Background(), "ghost", WorkerIdle)
	if !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("heartbeat unknown worker: %v", err)
	}
}

func TestRemoveWorkerBusyRequiresForce(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	registerTestWorker(t, q, "w1")
	id, _ := q.Enqueue(ctx, EnqueueRequest{FileVersionID: "fv1", Plugin: "p"})
	if _, err := q.Claim(ctx, "w1", 1000); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := q.RemoveWorker(ctx, "w1", false)
	if !errors.Is(err, ErrWorkerBusy) {
		t.Fatalf("remove busy worker without force: %v", err)
	}

	if err := q.RemoveWorker(ctx, "w1", true); err != nil {
		t.Fatalf("forced remove: %v", err)
	}
	if _, err := q.GetWorker(ctx, "w1"); !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("worker row survived removal: %v", err)
	}

	j, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != StatusQueued || j.RetryCount != 1 {
		t.Fatalf("job after forced removal: %#v", j)
	}
	if j.WorkerHost != "" || j.ClaimedAt != nil {
		t.Fatalf("job assignment not cleared: %#v", j)
	}
}

func TestSweepStaleRequeuesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	registerTestWorker(t, q, "dead")
	registerTestWorker(t, q, "alive")

	id, _ := q.Enqueue(ctx, EnqueueRequest{FileVersionID: "fv1", Plugin: "p"})
	j, err := q.Claim(ctx, "dead", 1000)
	if err != nil || j == nil {
		t.Fatalf("claim: %v %#v", err, j)
	}

	// Backdate the dead worker's heartbeat past the threshold.
	_, err = q.db.ExecContext(ctx, "UPDATE workers SET last_heartbeat = ? WHERE host = ?;",
		time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano), "dead")
	if err != nil {
		t.Fatalf("backdate heartbeat: %v", err)
	}

	n, err := q.SweepStale(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep removed %d workers, want 1", n)
	}

	if _, err := q.GetWorker(ctx, "dead"); !errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("stale worker row survived: %v", err)
	}
	if _, err := q.GetWorker(ctx, "alive"); err != nil {
		t.Fatalf("healthy worker was swept: %v", err)
	}

	got, _ := q.Get(ctx, id)
	if got.Status != StatusQueued || got.RetryCount != 1 {
		t.Fatalf("orphaned job after sweep: %#v", got)
	}

	// A second pass over the same state finds nothing to clean.
	n, err = q.SweepStale(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep removed %d workers, want 0", n)
	}
	got, _ = q.Get(ctx, id)
	if got.RetryCount != 1 {
		t.Fatalf("second sweep bumped retry count: %#v", got)
	}
}

func TestSweepStaleLeavesCancelledJobAlone(t *testing.T) {
	t.Parallel()
	q := openTestQueue(t)
	ctx := context.Background()

	registerTestWorker(t, q, "dead")
	id, _ := q.Enqueue(ctx, EnqueueRequest{FileVersionID: "fv1", Plugin: "p"})
	if _, err := q.Claim(ctx, "dead", 1000); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := q.db.ExecContext(ctx, "UPDATE workers SET last_heartbeat = ? WHERE host = ?;",
		time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano), "dead")
	if err != nil {
		t.Fatalf("backdate heartbeat: %v", err)
	}

	if _, err := q.SweepStale(ctx, 30*time.Second); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	j, _ := q.Get(ctx, id)
	if j.Status != StatusCancelled {
		t.Fatalf("sweep resurrected cancelled job: %#v", j)
	}
}
