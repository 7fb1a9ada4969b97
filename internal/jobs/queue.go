package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/subclip/pkg/log"
)

// Executor processes one job. A Summary with a Warning marks the job as
// skipped rather than successful.
type Executor func(ctx context.Context, job *VideoJob) (Summary, error)

type Queue struct {
	workerCount int
	maxJobs     int
	store       Store

	mu          sync.RWMutex
	jobs        map[string]*VideoJob
	dedupe      map[string]string
	subscribers map[uint64]*subscription
	subCounter  uint64
	idCounter   uint64
	started     bool
	pendingIDs  chan string
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

type subscription struct {
	ch   chan *VideoJob
	done chan struct{}
	// lossy subscribers drop events when their buffer is full instead of
	// holding up the worker that publishes them.
	lossy bool
}

func NewQueue(workerCount int, store Store) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount: workerCount,
		maxJobs:     1000,
		store:       store,
		jobs:        make(map[string]*VideoJob),
		dedupe:      make(map[string]string),
		subscribers: make(map[uint64]*subscription),
		pendingIDs:  make(chan string, 1024),
		ctx:         ctx,
		cancel:      cancel,
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Workers returns the size of the worker pool.
func (q *Queue) Workers() int {
	return q.workerCount
}

func (q *Queue) Enqueue(req EnqueueRequest) (*VideoJob, bool) {
	now := time.Now()

	q.mu.Lock()
	if id, ok := q.dedupe[req.DedupeKey]; ok {
		if existing, exists := q.jobs[id]; exists {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, req.DedupeKey)
	}

	id := fmt.Sprintf("job-%d", atomic.AddUint64(&q.idCounter, 1))
	job := &VideoJob{
		ID:        id,
		RunID:     req.RunID,
		Source:    req.Source,
		DedupeKey: req.DedupeKey,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.jobs[id] = job
	if req.DedupeKey != "" {
		q.dedupe[req.DedupeKey] = id
	}
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(id)
	}
	return snapshot, true
}

func (q *Queue) Get(id string) (*VideoJob, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns all known jobs, oldest first.
func (q *Queue) List() []*VideoJob {
	q.mu.RLock()
	ret := make([]*VideoJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].CreatedAt.Before(ret[j].CreatedAt)
		}
		return jobNumber(ret[i].ID) < jobNumber(ret[j].ID)
	})
	return ret
}

// Subscribe returns a channel receiving a snapshot of every job that
// reaches a terminal status. Delivery is guaranteed: the caller must drain
// the channel until it calls the returned cancel function.
func (q *Queue) Subscribe(buffer int) (<-chan *VideoJob, func()) {
	return q.subscribe(buffer, false)
}

// SubscribeLossy is Subscribe for observers that may fall behind, such as
// remote clients. Events that do not fit in the buffer are dropped.
func (q *Queue) SubscribeLossy(buffer int) (<-chan *VideoJob, func()) {
	return q.subscribe(buffer, true)
}

func (q *Queue) subscribe(buffer int, lossy bool) (<-chan *VideoJob, func()) {
	sub := &subscription{
		ch:    make(chan *VideoJob, buffer),
		done:  make(chan struct{}),
		lossy: lossy,
	}

	q.mu.Lock()
	q.subCounter++
	key := q.subCounter
	q.subscribers[key] = sub
	q.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.subscribers, key)
			q.mu.Unlock()
			close(sub.done)
		})
	}
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	pending := make([]string, 0)
	for id, job := range q.jobs {
		if job.Status == StatusPending {
			pending = append(pending, id)
		}
	}
	q.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return jobNumber(pending[i]) < jobNumber(pending[j]) })
	for _, id := range pending {
		q.enqueuePendingID(id)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels running executors and waits for workers to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-q.pendingIDs:
			job, ok := q.markRunning(id)
			if !ok {
				continue
			}

			summary, err := q.execute(exec, job)
			q.markFinished(id, summary, err)
		}
	}
}

func (q *Queue) execute(exec Executor, job *VideoJob) (summary Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(q.ctx, job)
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.ctx.Done():
			}
		}()
	}
}

func (q *Queue) markRunning(id string) (*VideoJob, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusPending {
		q.mu.Unlock()
		return nil, false
	}
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, true
}

func (q *Queue) markFinished(id string, summary Summary, err error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Summary = summary
	job.Error = ""
	switch {
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
	case summary.Warning != "":
		job.Status = StatusSkipped
	default:
		job.Status = StatusSuccess
	}
	job.UpdatedAt = time.Now()
	q.releaseDedupeLocked(job)
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	subs := make([]*subscription, 0, len(q.subscribers))
	for _, sub := range q.subscribers {
		subs = append(subs, sub)
	}
	q.mu.Unlock()

	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
	q.publish(subs, snapshot)
}

func (q *Queue) publish(subs []*subscription, job *VideoJob) {
	for _, sub := range subs {
		if sub.lossy {
			select {
			case sub.ch <- cloneJob(job):
			default:
				log.Debug("Dropping %s event for a slow subscriber", job.ID)
			}
			continue
		}
		select {
		case sub.ch <- cloneJob(job):
		case <-sub.done:
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) releaseDedupeLocked(job *VideoJob) {
	if job == nil || job.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[job.DedupeKey]; ok && id == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job == nil || !job.Status.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	if toRemove <= 0 {
		return nil
	}

	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		if job := q.jobs[id]; job != nil {
			q.releaseDedupeLocked(job)
		}
		delete(q.jobs, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*VideoJob, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
		if job.Status == StatusPending && job.DedupeKey != "" {
			q.dedupe[job.DedupeKey] = job.ID
		}
		q.updateIDCounterLocked(job.ID)
	}
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func (q *Queue) updateIDCounterLocked(jobID string) {
	if n := jobNumber(jobID); n > q.idCounter {
		q.idCounter = n
	}
}

func jobNumber(jobID string) uint64 {
	if !strings.HasPrefix(jobID, "job-") {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(jobID, "job-"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) persistJob(job *VideoJob) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *VideoJob) *VideoJob {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
