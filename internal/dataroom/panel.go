package dataroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sparkcreatives/spark-portal/internal/safego"
	"github.com/sparkcreatives/spark-portal/internal/telemetry"
)

// State is the phase of a panel fetch.
type State int

const (
	StateLoading State = iota
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// View is an immutable snapshot of a panel.
type View struct {
	Org       string
	State     State
	Documents []Document
	Err       error
}

func (v View) Loading() bool { return v.State == StateLoading }
func (v View) Failed() bool  { return v.State == StateError }

// Empty reports a successful fetch that returned no documents.
func (v View) Empty() bool { return v.State == StateSuccess && len(v.Documents) == 0 }

// subscriberBuffer bounds how many transitions a slow subscriber may lag
// behind before further views are dropped for it.
const subscriberBuffer = 8

// Panel drives one organization's document fetch through loading, success
// and error, keeping at most one request outstanding.
//
// Every Mount or SetOrg starts a new generation and cancels the previous
// request. A result is applied only if its generation is still current and
// the panel is still mounted, so a slow response for an earlier organization
// can never overwrite a newer one.
type Panel struct {
	fetcher    Fetcher
	defaultOrg string
	logger     *slog.Logger

	mu        sync.Mutex
	view      View
	gen       uint64
	mounted   bool
	dead      bool
	cancel    context.CancelFunc
	settled   chan struct{}
	unmounted chan struct{}
	subs      map[int]chan View
	nextSub   int
}

// NewPanel creates an unmounted panel. defaultOrg replaces blank organization
// identifiers.
func NewPanel(fetcher Fetcher, defaultOrg string) *Panel {
	return &Panel{
		fetcher:    fetcher,
		defaultOrg: defaultOrg,
		logger:     slog.Default().With("component", "dataroom_panel"),
		view:       View{State: StateLoading},
		settled:    make(chan struct{}),
		unmounted:  make(chan struct{}),
		subs:       make(map[int]chan View),
	}
}

// Mount starts the first fetch for org. Mounting an already mounted panel
// re-fetches. A panel cannot be mounted again after Unmount.
func (p *Panel) Mount(org string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return
	}
	p.mounted = true
	p.startLocked(ResolveOrg(org, p.defaultOrg))
}

// SetOrg switches the panel to org. It fetches only when the resolved
// identifier differs from the current one; before Mount it behaves like
// Mount.
func (p *Panel) SetOrg(org string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return
	}
	resolved := ResolveOrg(org, p.defaultOrg)
	if p.mounted && resolved == p.view.Org {
		return
	}
	p.mounted = true
	p.startLocked(resolved)
}

func (p *Panel) startLocked(org string) {
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	// A fresh settle channel per generation; the previous one may already be
	// closed.
	select {
	case <-p.settled:
		p.settled = make(chan struct{})
	default:
	}

	p.view = View{Org: org, State: StateLoading}
	p.publishLocked()

	safego.GoNamed("dataroom.fetch", func() {
		p.fetch(ctx, gen, org)
	}, func(r any) {
		p.settle(gen, nil, fmt.Errorf("document fetch panicked: %v", r))
	})
}

func (p *Panel) fetch(ctx context.Context, gen uint64, org string) {
	start := time.Now()
	resp, err := p.fetcher.ListDocuments(ctx, org)
	telemetry.DataRoomFetchDuration.Observe(time.Since(start).Seconds())
	p.settle(gen, resp, err)
}

// settle applies the outcome of generation gen. Outcomes for superseded
// generations, for an unmounted panel, or for a generation that already
// settled are dropped.
func (p *Panel) settle(gen uint64, resp *DocumentListResponse, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dead || gen != p.gen || p.view.State != StateLoading {
		telemetry.DataRoomFetchesTotal.WithLabelValues("discarded").Inc()
		return
	}

	org := p.view.Org
	switch {
	case err != nil:
		p.view = View{Org: org, State: StateError, Err: err}
		telemetry.DataRoomFetchesTotal.WithLabelValues(outcomeFor(err)).Inc()
		p.logger.Warn("failed to load data-room documents", "org", org, "error", err)
	case resp == nil:
		err = &ResponseError{Err: ErrMissingDocuments}
		p.view = View{Org: org, State: StateError, Err: err}
		telemetry.DataRoomFetchesTotal.WithLabelValues("response_error").Inc()
		p.logger.Warn("failed to load data-room documents", "org", org, "error", err)
	default:
		docs := resp.Documents
		if docs == nil {
			docs = []Document{}
		}
		p.view = View{Org: org, State: StateSuccess, Documents: docs}
		if len(docs) == 0 {
			telemetry.DataRoomFetchesTotal.WithLabelValues("empty").Inc()
		} else {
			telemetry.DataRoomFetchesTotal.WithLabelValues("success").Inc()
		}
		p.logger.Debug("loaded data-room documents", "org", org, "count", len(docs))
	}

	close(p.settled)
	p.publishLocked()
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrNetwork):
		return "network_error"
	default:
		return "response_error"
	}
}

// View returns the current snapshot.
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Await blocks until the current fetch settles and returns the settled view.
// If the organization changes while waiting, Await keeps waiting for the new
// fetch. It returns ErrUnmounted after Unmount and ctx.Err() when ctx ends
// first; both come with the latest view.
func (p *Panel) Await(ctx context.Context) (View, error) {
	for {
		p.mu.Lock()
		if p.dead {
			v := p.view
			p.mu.Unlock()
			return v, ErrUnmounted
		}
		settled := p.settled
		p.mu.Unlock()

		select {
		case <-settled:
			p.mu.Lock()
			v := p.view
			p.mu.Unlock()
			if v.State != StateLoading {
				return v, nil
			}
		case <-p.unmounted:
		case <-ctx.Done():
			return p.View(), ctx.Err()
		}
	}
}

// Subscribe returns a channel that receives the current view immediately and
// every later transition. The channel is closed by the returned cancel
// function or by Unmount. Views are dropped for a subscriber that falls more
// than a few transitions behind.
func (p *Panel) Subscribe() (<-chan View, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan View, subscriberBuffer)
	if p.dead {
		close(ch)
		return ch, func() {}
	}

	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.view

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

func (p *Panel) publishLocked() {
	for id, ch := range p.subs {
		select {
		case ch <- p.view:
		default:
			p.logger.Debug("dropping panel view for slow subscriber", "subscriber", id)
		}
	}
}

// Unmount cancels any request in flight and stops all further updates.
// Subscriber channels are closed.
func (p *Panel) Unmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return
	}
	p.dead = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	close(p.unmounted)
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
