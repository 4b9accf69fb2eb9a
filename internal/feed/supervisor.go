package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pricefeed-aggregator/internal/metrics"
)

// Transport is the connection half a Supervisor drives. Dial opens and
// authenticates the connection for the given want-set; Run pumps it until
// it fails or ctx is cancelled; Close tears it down.
type Transport interface {
	Dial(ctx context.Context, wanted []string) error
	Run(ctx context.Context) error
	Close()
}

// Supervisor owns the upstream connection lifecycle for one source: it keeps
// the connection up while the want-set is non-empty, idles while it is empty,
// and retries after a fixed delay on failure. Sources whose upstream has no
// in-band subscription protocol set reconnectOnChange, which tears the
// connection down on every want-set change so Dial sees the new set.
type Supervisor struct {
	name              string
	transport         Transport
	delay             time.Duration
	reconnectOnChange bool
	logger            *logrus.Logger

	mu     sync.Mutex
	wanted map[string]struct{}

	kick      chan struct{} // want-set became non-empty, or recheck
	interrupt chan struct{} // current connection must be torn down
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

func NewSupervisor(name string, transport Transport, delay time.Duration, reconnectOnChange bool, logger *logrus.Logger) *Supervisor {
	return &Supervisor{
		name:              name,
		transport:         transport,
		delay:             delay,
		reconnectOnChange: reconnectOnChange,
		logger:            logger,
		wanted:            make(map[string]struct{}),
		kick:              make(chan struct{}, 1),
		interrupt:         make(chan struct{}, 1),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start launches the supervision loop.
func (s *Supervisor) Start() {
	go s.run()
	if s.wantCount() > 0 {
		s.notify(false)
	}
}

// Shutdown stops the loop and waits for the connection to close.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Subscribe adds id to the want-set. It reports whether the id was new.
func (s *Supervisor) Subscribe(id string) bool {
	s.mu.Lock()
	if _, ok := s.wanted[id]; ok {
		s.mu.Unlock()
		return false
	}
	s.wanted[id] = struct{}{}
	s.mu.Unlock()

	s.notify(s.reconnectOnChange)
	return true
}

// Unsubscribe removes id from the want-set. It reports whether the id was
// present. Draining the want-set always tears the connection down.
func (s *Supervisor) Unsubscribe(id string) bool {
	s.mu.Lock()
	if _, ok := s.wanted[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.wanted, id)
	empty := len(s.wanted) == 0
	s.mu.Unlock()

	s.notify(s.reconnectOnChange || empty)
	return true
}

// WantSet returns a sorted copy of the current want-set.
func (s *Supervisor) WantSet() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.wanted))
	for id := range s.wanted {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Wants reports whether id is in the want-set.
func (s *Supervisor) Wants(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.wanted[id]
	return ok
}

func (s *Supervisor) wantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wanted)
}

func (s *Supervisor) notify(tearDown bool) {
	if tearDown {
		select {
		case s.interrupt <- struct{}{}:
		default:
		}
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Supervisor) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Supervisor) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.kick:
		}
		s.serve()
		if s.stopped() {
			return
		}
	}
}

// drainInterrupt drops a teardown signal left over from before the current
// connection attempt. It must run before the want-set snapshot: a change
// arriving afterwards either lands in the snapshot or leaves its signal
// queued for the connection watcher.
func (s *Supervisor) drainInterrupt() {
	select {
	case <-s.interrupt:
	default:
	}
}

// serve dials and pumps the connection until the want-set drains or the
// supervisor shuts down. One iteration per connection attempt.
func (s *Supervisor) serve() {
	for {
		s.drainInterrupt()
		wanted := s.WantSet()
		if len(wanted) == 0 {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		watcherDone := make(chan struct{})
		go func() {
			defer close(watcherDone)
			select {
			case <-s.stop:
				cancel()
			case <-s.interrupt:
				cancel()
			case <-ctx.Done():
			}
		}()

		err := s.transport.Dial(ctx, wanted)
		if err == nil {
			metrics.UpstreamConnections.WithLabelValues(s.name).Set(1)
			s.logger.WithFields(logrus.Fields{
				"source": s.name,
				"feeds":  len(wanted),
			}).Info("✅ Upstream connected")
			err = s.transport.Run(ctx)
		}
		s.transport.Close()
		metrics.UpstreamConnections.WithLabelValues(s.name).Set(0)
		cancel()
		<-watcherDone

		if s.stopped() {
			return
		}

		if err != nil && !errors.Is(err, context.Canceled) {
			metrics.UpstreamReconnects.WithLabelValues(s.name).Inc()
			s.logger.WithError(err).WithField("source", s.name).
				Warnf("Upstream connection lost, retrying in %s", s.delay)
			select {
			case <-s.stop:
				return
			case <-time.After(s.delay):
			}
		}
	}
}
