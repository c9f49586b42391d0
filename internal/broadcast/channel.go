package broadcast

import (
	"github.com/gorilla/websocket"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/metrics"
)

// fanoutChannel is the set of viewers of one key plus the bus subscription
// feeding them. Its fields are owned by the registry goroutine.
type fanoutChannel struct {
	key     string
	sub     domain.Subscription
	viewers map[*websocket.Conn]*viewer
}

// relay forwards every payload of the subscription to the registry until
// the subscription is closed.
func (c *fanoutChannel) relay(r *Registry) {
	for payload := range c.sub.Messages() {
		metrics.FanoutMessagesTotal.Inc()
		if !r.send(deliverCmd{channel: c, payload: payload}) {
			return
		}
	}
}

// broadcast queues payload for every viewer. A viewer whose queue is full
// misses this payload; the liveness monitor deals with dead viewers.
func (c *fanoutChannel) broadcast(payload []byte) {
	for _, v := range c.viewers {
		if !v.enqueue(payload) {
			metrics.FanoutDroppedTotal.Inc()
		}
	}
}
