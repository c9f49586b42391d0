package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollpulse/internal/metrics"
)

const (
	writeWait       = 5 * time.Second
	sendQueueLength = 16
)

const (
	evictUnanswered  = "unanswered"
	evictPingFailed  = "ping_failed"
	evictWriteFailed = "write_failed"
)

// viewer writes payloads to one WebSocket connection and monitors its
// liveness. Only its run goroutine writes to the connection.
type viewer struct {
	key        string
	connection *websocket.Conn
	clock      clockwork.Clock
	interval   time.Duration
	live       *liveness
	send       chan []byte
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	onEvict    func(v *viewer)
	attachedAt time.Time
}

func newViewer(key string, connection *websocket.Conn, clock clockwork.Clock, interval time.Duration, onEvict func(*viewer)) *viewer {
	v := &viewer{
		key:        key,
		connection: connection,
		clock:      clock,
		interval:   interval,
		live:       newLiveness(),
		send:       make(chan []byte, sendQueueLength),
		done:       make(chan struct{}),
		onEvict:    onEvict,
		attachedAt: clock.Now(),
	}
	connection.SetPongHandler(func(string) error {
		v.live.acknowledge()
		return nil
	})
	return v
}

func (v *viewer) start() {
	v.wg.Add(1)
	go v.run()
}

// enqueue queues a payload without blocking. It reports false when the
// queue is full and the payload was dropped.
func (v *viewer) enqueue(payload []byte) bool {
	select {
	case v.send <- payload:
		return true
	default:
		return false
	}
}

func (v *viewer) run() {
	ticker := v.clock.NewTicker(v.interval)
	defer ticker.Stop()
	defer v.wg.Done()

	for {
		select {
		case msg := <-v.send:
			start := time.Now()
			_ = v.connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				v.evict(evictWriteFailed)
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(time.Since(start).Seconds())
		case <-ticker.Chan():
			if !v.live.probe() {
				v.evict(evictUnanswered)
				return
			}
			metrics.LivenessProbesTotal.Inc()
			if err := v.connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				v.evict(evictPingFailed)
				return
			}
		case <-v.done:
			return
		}
	}
}

// evict closes the connection from the write goroutine and asks the
// registry to detach it. The reader of the connection sees the close too.
func (v *viewer) evict(reason string) {
	metrics.LivenessEvictionsTotal.WithLabelValues(reason).Inc()
	_ = v.connection.Close()
	if v.onEvict != nil {
		go v.onEvict(v)
	}
}

func (v *viewer) stop() {
	v.stopOnce.Do(func() {
		close(v.done)
		_ = v.connection.Close()
	})
	v.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (v *viewer) stopGraceful(reason string) {
	v.stopOnce.Do(func() {
		close(v.done)
		// the run goroutine must be gone before writing the close frame
		v.wg.Wait()

		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		_ = v.connection.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = v.connection.Close()
	})
	v.wg.Wait()
}
