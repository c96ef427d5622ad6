package identity

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/skillport/internal/model"
)

// subscriberBuffer は購読者ごとの未配信イベントの上限。
// SIGNED_OUTはこの上限に関係なく必ずキューに積む。
const subscriberBuffer = 32

// broker はセッション変更イベントを購読者へ発行順に配信する。
// 購読者ごとに配信用goroutineを持ち、遅い購読者が発行側をブロックしない。
type broker struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	mu      sync.Mutex
	pending []model.SessionEvent
	wake    chan struct{}
	stop    chan struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[uint64]*subscriber)}
}

// enqueue はイベントをキューに積む。積めなかった場合はfalseを返す。
func (s *subscriber) enqueue(ev model.SessionEvent) bool {
	s.mu.Lock()
	if len(s.pending) >= subscriberBuffer && ev.Kind != model.EventSignedOut {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// drain は未配信イベントを発行順に取り出す。
func (s *subscriber) drain() []model.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.pending
	s.pending = nil
	return evs
}

// subscribe はコールバックを登録し、購読解除関数を返す。
// 購読解除後はコールバックが呼ばれない。購読解除関数は複数回呼んでもよい。
func (b *broker) subscribe(cb func(model.SessionEvent)) func() {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.stop:
				return
			case <-sub.wake:
			}
			for _, ev := range sub.drain() {
				select {
				case <-sub.stop:
					return
				default:
				}
				cb(ev)
			}
		}
	}()

	return func() {
		b.mu.Lock()
		_, ok := b.subs[id]
		delete(b.subs, id)
		b.mu.Unlock()
		if ok {
			close(sub.stop)
		}
	}
}

// publish はイベントを全購読者のキューに積む。
// キューが満杯の購読者にはSIGNED_OUT以外のイベントを配信せずに警告ログを出す。
func (b *broker) publish(ev model.SessionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		if !sub.enqueue(ev) {
			slog.Warn("session event dropped for slow subscriber",
				slog.Uint64("subscriber_id", id),
				slog.String("kind", string(ev.Kind)),
			)
		}
	}
}

// close は全購読者を解除し、以降の購読を受け付けない。
func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.stop)
	}
}
