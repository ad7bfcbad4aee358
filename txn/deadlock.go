package txn

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Detector periodically scans the lock table's wait-for graph for cycles
// and aborts the youngest transaction in each cycle found. It
// also supports an immediate on-each-block check via notify(), so a
// deadlock formed by the most recent wait can be caught without waiting for
// the next periodic sweep.
type Detector struct {
	lt       *LockTable
	interval time.Duration

	mu      sync.Mutex
	victims map[ID]chan struct{}

	notifyCh chan struct{}
	stopCh   chan struct{}
}

func NewDetector(lt *LockTable, interval time.Duration) *Detector {
	d := &Detector{
		lt:       lt,
		interval: interval,
		victims:  map[ID]chan struct{}{},
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Detector) Stop() {
	close(d.stopCh)
}

func (d *Detector) notify() {
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

func (d *Detector) loop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.sweep()
		case <-d.notifyCh:
			d.sweep()
		}
	}
}

// victimChan returns a channel that closes if txn is chosen as a deadlock
// victim while it is waiting.
func (d *Detector) victimChan(txn ID) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.victims[txn]
	if !ok {
		ch = make(chan struct{})
		d.victims[txn] = ch
	}
	return ch
}

func (d *Detector) abort(txn ID) {
	d.mu.Lock()
	ch, ok := d.victims[txn]
	if !ok {
		ch = make(chan struct{})
		d.victims[txn] = ch
	}
	d.mu.Unlock()

	select {
	case <-ch:
	default:
		close(ch)
	}
}

// sweep finds cycles in the wait-for graph and aborts the youngest
// transaction in each one. Youngest is the transaction with the largest ID,
// since IDs are monotonically increasing by issue order.
func (d *Detector) sweep() {
	graph := d.lt.snapshotWaitFor()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[ID]int{}
	var stack []ID

	var visit func(ID) *ID
	visit = func(n ID) *ID {
		color[n] = gray
		stack = append(stack, n)
		for m := range graph[n] {
			switch color[m] {
			case white:
				if v := visit(m); v != nil {
					return v
				}
			case gray:
				victim := youngestInCycle(stack, m)
				return &victim
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	for n := range graph {
		if color[n] == white {
			if v := visit(n); v != nil {
				log.WithField("victim", *v).WithField("waiters", len(graph)).
					Info("txn: deadlock cycle found, aborting youngest transaction")
				d.abort(*v)
				return
			}
		}
	}
}

func youngestInCycle(stack []ID, start ID) ID {
	youngest := start
	inCycle := false
	for _, id := range stack {
		if id == start {
			inCycle = true
		}
		if inCycle && id > youngest {
			youngest = id
		}
	}
	return youngest
}
