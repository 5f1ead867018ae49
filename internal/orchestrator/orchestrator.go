package orchestrator

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Nubiru/bhaskara-sub000/internal/model"
	"github.com/Nubiru/bhaskara-sub000/internal/progress"
)

// Common errors.
var (
	ErrAlreadyActive = errors.New("orchestrator: download already in flight")
	ErrUnknownID     = errors.New("orchestrator: unknown download id")
	ErrNotInFlight   = errors.New("orchestrator: download is not in flight")
)

// transitions lists the permitted status changes. The empty status is the
// implicit idle state of an id with no registry entry.
var transitions = map[model.Status][]model.Status{
	"":                      {model.StatusPreparing, model.StatusDownloading},
	model.StatusPreparing:   {model.StatusDownloading, model.StatusCompleted, model.StatusFailed, model.StatusCancelled},
	model.StatusDownloading: {model.StatusCompleted, model.StatusFailed, model.StatusCancelled},
}

func canTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now as the source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithDebounce sets the minimum spacing between accepted progress samples
// for one download.
func WithDebounce(interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.gate = progress.NewGate(interval)
	}
}

// WithLogger sets the logger used for transition logging.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// Orchestrator owns the registry of downloads and applies every state
// transition. All methods are safe for concurrent use.
type Orchestrator struct {
	now  func() time.Time
	gate *progress.Gate
	log  logrus.FieldLogger

	mu    sync.Mutex
	items map[model.ID]*model.Item
	total float64
	subs  map[int]chan Event
	next  int
}

// New creates an empty orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		now:   time.Now,
		gate:  progress.NewGate(progress.DefaultDebounceInterval),
		items: make(map[model.ID]*model.Item),
		subs:  make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.log = l
	}
	return o
}

// Start registers id as downloading with zeroed progress. It fails with
// ErrAlreadyActive if id is in flight; a terminal entry for id is replaced.
func (o *Orchestrator) Start(id model.ID, opts model.Options) error {
	return o.start(id, opts, model.StatusDownloading)
}

// Prepare is like Start but enters the preparing state. Call Begin once the
// transfer starts.
func (o *Orchestrator) Prepare(id model.ID, opts model.Options) error {
	return o.start(id, opts, model.StatusPreparing)
}

func (o *Orchestrator) start(id model.ID, opts model.Options, status model.Status) error {
	now := o.now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if it, ok := o.items[id]; ok && it.Status.InFlight() {
		return ErrAlreadyActive
	}
	opts.AnalysisIDs = append([]string(nil), opts.AnalysisIDs...)
	o.items[id] = &model.Item{
		ID:        id,
		Options:   opts,
		Status:    status,
		Progress:  model.Progress{Status: status},
		StartedAt: now,
		UpdatedAt: now,
	}
	o.gate.Forget(string(id))
	o.changed(id)
	return nil
}

// Begin moves a preparing download to downloading.
func (o *Orchestrator) Begin(id model.ID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.items[id]
	if !ok {
		return ErrUnknownID
	}
	if it.Status == model.StatusDownloading {
		return nil
	}
	if !o.transition(it, model.StatusDownloading) {
		return ErrNotInFlight
	}
	return nil
}

// UpdateProgress applies a progress sample for id. It returns false without
// error when the sample was dropped: id is unknown or no longer in flight
// (for example just cancelled), or the debounce interval has not elapsed.
// Samples at 100% are never debounced. The recorded percentage never
// decreases.
func (o *Orchestrator) UpdateProgress(id model.ID, p model.Progress) bool {
	now := o.now()

	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.items[id]
	if !ok || !it.Status.InFlight() {
		return false
	}
	terminal := p.Percentage >= 100 || p.Status == model.StatusCompleted
	if !o.gate.Allow(string(id), now, terminal) {
		return false
	}

	pct := p.Percentage
	if pct > 100 {
		pct = 100
	}
	if pct < it.Progress.Percentage {
		pct = it.Progress.Percentage
	}
	p.Percentage = pct
	p.Status = it.Status
	if p.Speed == 0 {
		p.Speed = progress.Speed(it.StartedAt, now, p.BytesReceived)
	}
	p.ETA = nil
	if eta, ok := progress.EstimateRemaining(it.StartedAt, now, pct); ok {
		p.ETA = &eta
	}

	it.Progress = p
	it.UpdatedAt = now
	o.changed(id)
	return true
}

// Complete records a successful download. It is ignored unless id is in
// flight.
func (o *Orchestrator) Complete(id model.ID, result model.Result) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.items[id]
	if !ok || !o.transition(it, model.StatusCompleted) {
		return false
	}
	it.Progress.Percentage = 100
	it.Progress.ETA = nil
	if it.Progress.BytesReceived == 0 {
		it.Progress.BytesReceived = result.Size
	}
	if it.Progress.TotalBytes == 0 {
		it.Progress.TotalBytes = result.Size
	}
	it.Result = &result
	o.gate.Forget(string(id))
	o.changed(id)
	return true
}

// Fail records a failed download with err's message and kind. It is ignored
// unless id is in flight.
func (o *Orchestrator) Fail(id model.ID, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.items[id]
	if !ok || !o.transition(it, model.StatusFailed) {
		return false
	}
	it.ErrorKind = model.KindOf(err)
	if err != nil {
		it.Error = err.Error()
	}
	it.Progress.ETA = nil
	o.gate.Forget(string(id))
	o.changed(id)
	return true
}

// Cancel marks an in-flight download as cancelled. It is ignored unless id
// is in flight.
func (o *Orchestrator) Cancel(id model.ID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.items[id]
	if !ok || !o.transition(it, model.StatusCancelled) {
		return false
	}
	it.Progress.ETA = nil
	o.gate.Forget(string(id))
	o.changed(id)
	return true
}

// Reset removes every trace of id from the registry. An in-flight entry is
// cancelled first, so subscribers see a cancelled event before the removal.
func (o *Orchestrator) Reset(id model.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.items[id]
	if !ok {
		return
	}
	o.cancelInFlight(it)
	delete(o.items, id)
	o.gate.Forget(string(id))
	o.log.WithField("download_id", id).Debug("download reset")
	o.changed(id)
}

// ResetAll cancels every in-flight entry and clears the registry.
func (o *Orchestrator) ResetAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, it := range o.items {
		o.cancelInFlight(it)
	}
	o.items = make(map[model.ID]*model.Item)
	o.gate.Clear()
	o.log.Debug("registry reset")
	o.changed("")
}

// cancelInFlight moves an in-flight entry to cancelled and notifies
// subscribers. Terminal entries are left alone. Caller holds o.mu.
func (o *Orchestrator) cancelInFlight(it *model.Item) {
	if !it.Status.InFlight() || !o.transition(it, model.StatusCancelled) {
		return
	}
	it.Progress.ETA = nil
	o.log.WithField("download_id", it.ID).Debug("in-flight download cancelled by reset")
	o.changed(it.ID)
}

// transition moves it to status if permitted. Caller holds o.mu.
func (o *Orchestrator) transition(it *model.Item, status model.Status) bool {
	if !canTransition(it.Status, status) {
		o.log.WithFields(logrus.Fields{
			"download_id": it.ID,
			"from":        it.Status,
			"to":          status,
		}).Debug("transition ignored")
		return false
	}
	o.log.WithFields(logrus.Fields{
		"download_id": it.ID,
		"from":        it.Status,
		"to":          status,
	}).Debug("transition")
	it.Status = status
	it.Progress.Status = status
	it.UpdatedAt = o.now()
	return true
}

// changed recomputes the aggregate and notifies subscribers. Caller holds
// o.mu.
func (o *Orchestrator) changed(id model.ID) {
	o.total = meanProgress(o.items)

	ev := Event{ID: id, TotalProgress: o.total}
	if it, ok := o.items[id]; ok {
		ev.Status = it.Status
		ev.Percentage = it.Progress.Percentage
	}
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			// subscriber is lagging; it will catch up from Snapshot
		}
	}
}

func meanProgress(items map[model.ID]*model.Item) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Progress.Percentage
	}
	return sum / float64(len(items))
}

// Item returns a copy of the entry for id.
func (o *Orchestrator) Item(id model.ID) (*model.Item, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	it, ok := o.items[id]
	if !ok {
		return nil, false
	}
	return it.Clone(), true
}

// Snapshot returns a consistent copy of the registry with the derived id
// sets. Id lists are sorted.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		Items:         make(map[model.ID]*model.Item, len(o.items)),
		TotalProgress: o.total,
	}
	for id, it := range o.items {
		s.Items[id] = it.Clone()
		switch {
		case it.Status.InFlight():
			s.Active = append(s.Active, id)
		case it.Status == model.StatusCompleted:
			s.Completed = append(s.Completed, id)
		case it.Status == model.StatusFailed:
			s.Failed = append(s.Failed, id)
		}
	}
	sortIDs(s.Active)
	sortIDs(s.Completed)
	sortIDs(s.Failed)
	return s
}

func sortIDs(ids []model.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// TotalProgress returns the mean percentage over every tracked download.
func (o *Orchestrator) TotalProgress() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// IsDownloading reports whether any download is in flight.
func (o *Orchestrator) IsDownloading() bool {
	return o.exists(func(it *model.Item) bool { return it.Status.InFlight() })
}

// HasError reports whether any tracked download failed.
func (o *Orchestrator) HasError() bool {
	return o.exists(func(it *model.Item) bool { return it.Status == model.StatusFailed })
}

// IsCompleted reports whether at least one download completed and none is
// still in flight.
func (o *Orchestrator) IsCompleted() bool {
	return o.exists(func(it *model.Item) bool { return it.Status == model.StatusCompleted }) &&
		!o.IsDownloading()
}

func (o *Orchestrator) exists(pred func(*model.Item) bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, it := range o.items {
		if pred(it) {
			return true
		}
	}
	return false
}
