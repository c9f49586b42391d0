package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/metrics"
)

// NewPollsKey is the reserved registry key for viewers of new-poll
// announcements. It maps to domain.NewPollTopic instead of a vote topic.
const NewPollsKey = "new"

const (
	commandTimeout   = 5 * time.Second
	subscribeTimeout = 2 * time.Second
	stopTimeout      = 10 * time.Second
	commandQueueSize = 256
)

var (
	ErrRegistryStopped = errors.New("registry stopped")
	ErrChannelFull     = errors.New("too many viewers")
)

// registryCmd is the command interface for the Registry actor.
type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type attachCmd struct {
	baseRegistryCmd
	key        string
	connection *websocket.Conn
	snapshot   []byte
	reply      chan error
}

type detachCmd struct {
	baseRegistryCmd
	key        string
	connection *websocket.Conn
}

type deliverCmd struct {
	baseRegistryCmd
	channel *fanoutChannel
	payload []byte
}

type viewerCountCmd struct {
	baseRegistryCmd
	key   string
	reply chan int
}

type channelCountCmd struct {
	baseRegistryCmd
	reply chan int
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry owns the fanout channels of this instance.
type Registry struct {
	cmdCh       chan registryCmd
	clock       clockwork.Clock
	subscriber  domain.Subscriber
	channels    map[string]*fanoutChannel
	heartbeat   time.Duration
	maxViewers  int
	done        chan struct{}
	stopTimeout time.Duration
}

// NewRegistry starts the registry goroutine. heartbeat is the liveness probe
// interval and maxViewers caps the viewers of a single channel.
func NewRegistry(subscriber domain.Subscriber, clock clockwork.Clock, heartbeat time.Duration, maxViewers int) *Registry {
	r := &Registry{
		cmdCh:       make(chan registryCmd, commandQueueSize),
		clock:       clock,
		subscriber:  subscriber,
		channels:    make(map[string]*fanoutChannel),
		heartbeat:   heartbeat,
		maxViewers:  maxViewers,
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	go r.run()
	return r
}

func topicFor(key string) string {
	if key == NewPollsKey {
		return domain.NewPollTopic
	}
	return domain.VoteTopic(key)
}

// send queues a command; false once the registry has stopped.
func (r *Registry) send(cmd registryCmd) bool {
	select {
	case r.cmdCh <- cmd:
		return true
	case <-r.done:
		return false
	}
}

// Attach adds a viewer to the channel of key, creating the channel and its
// bus subscription for the first viewer. A non-nil snapshot is queued to the
// viewer before any relayed payload. The caller keeps reading from conn and
// calls Detach once reading fails.
func (r *Registry) Attach(key string, conn *websocket.Conn, snapshot []byte) error {
	reply := make(chan error, 1)
	if !r.send(attachCmd{key: key, connection: conn, snapshot: snapshot, reply: reply}) {
		return ErrRegistryStopped
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrRegistryStopped
	case <-timer.Chan():
		return fmt.Errorf("attach command timed out after %v", commandTimeout)
	}
}

// Detach removes a viewer. Detaching an unknown viewer is a no-op.
func (r *Registry) Detach(key string, conn *websocket.Conn) {
	r.send(detachCmd{key: key, connection: conn})
}

// ViewerCount returns the viewers attached to key, or -1 on timeout.
func (r *Registry) ViewerCount(key string) int {
	reply := make(chan int, 1)
	if !r.send(viewerCountCmd{key: key, reply: reply}) {
		return 0
	}
	return r.await(reply)
}

// ChannelCount returns the number of live channels, or -1 on timeout.
func (r *Registry) ChannelCount() int {
	reply := make(chan int, 1)
	if !r.send(channelCountCmd{reply: reply}) {
		return 0
	}
	return r.await(reply)
}

func (r *Registry) await(reply chan int) int {
	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-reply:
		return n
	case <-r.done:
		return 0
	case <-timer.Chan():
		slog.Warn("Registry query timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every viewer with a close frame and every subscription, then
// waits for the registry goroutine to exit. Safe to call more than once.
func (r *Registry) Stop() {
	if !r.send(stopCmd{}) {
		return
	}

	timer := r.clock.NewTimer(r.stopTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
		slog.Info("Registry stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Registry stop timeout exceeded", "timeout", r.stopTimeout)
		metrics.RegistryStopTimeoutsTotal.Inc()
	}
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Registry panic recovered", "panic", p)
			metrics.RegistryPanicsTotal.Inc()
			r.closeAll("server error")
		}
	}()

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case attachCmd:
			c.reply <- r.handleAttach(c)
		case detachCmd:
			r.handleDetach(c)
		case deliverCmd:
			r.handleDeliver(c)
		case viewerCountCmd:
			n := 0
			if ch, ok := r.channels[c.key]; ok {
				n = len(ch.viewers)
			}
			c.reply <- n
		case channelCountCmd:
			c.reply <- len(r.channels)
		case stopCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleAttach(c attachCmd) error {
	ch, exists := r.channels[c.key]
	if !exists {
		var err error
		if ch, err = r.openChannel(c.key); err != nil {
			metrics.FanoutRejectedTotal.WithLabelValues("subscribe_error").Inc()
			return err
		}
	}

	if len(ch.viewers) >= r.maxViewers {
		slog.Warn("Rejecting viewer: channel full", "poll_id", c.key, "max_viewers", r.maxViewers)
		metrics.FanoutRejectedTotal.WithLabelValues("max_viewers").Inc()
		if len(ch.viewers) == 0 {
			r.closeChannel(ch)
		}
		return fmt.Errorf("%w: channel %s has %d", ErrChannelFull, c.key, r.maxViewers)
	}

	v := newViewer(c.key, c.connection, r.clock, r.heartbeat, func(v *viewer) {
		slog.Debug("Viewer evicted", "poll_id", v.key)
		r.Detach(v.key, v.connection)
	})
	if c.snapshot != nil {
		v.enqueue(c.snapshot)
	}
	ch.viewers[c.connection] = v
	v.start()

	metrics.FanoutViewers.Inc()
	slog.Debug("Viewer attached", "poll_id", c.key, "viewers", len(ch.viewers))
	return nil
}

// openChannel subscribes to the key's topic and registers the channel.
func (r *Registry) openChannel(key string) (*fanoutChannel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	sub, err := r.subscriber.Subscribe(ctx, topicFor(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open channel %s: %w", key, err)
	}

	ch := &fanoutChannel{
		key:     key,
		sub:     sub,
		viewers: make(map[*websocket.Conn]*viewer),
	}
	r.channels[key] = ch
	go ch.relay(r)

	metrics.FanoutChannels.Set(float64(len(r.channels)))
	slog.Info("Channel opened", "poll_id", key)
	return ch, nil
}

func (r *Registry) handleDetach(c detachCmd) {
	ch, ok := r.channels[c.key]
	if !ok {
		return
	}
	v, ok := ch.viewers[c.connection]
	if !ok {
		return
	}

	v.stop()
	delete(ch.viewers, c.connection)
	metrics.FanoutViewers.Dec()
	metrics.WebSocketConnectionDuration.Observe(r.clock.Since(v.attachedAt).Seconds())

	if len(ch.viewers) == 0 {
		r.closeChannel(ch)
		return
	}
	slog.Debug("Viewer detached", "poll_id", c.key, "remaining_viewers", len(ch.viewers))
}

func (r *Registry) closeChannel(ch *fanoutChannel) {
	if err := ch.sub.Close(); err != nil {
		slog.Error("Failed to close channel subscription", "poll_id", ch.key, "error", err)
	}
	delete(r.channels, ch.key)
	metrics.FanoutChannels.Set(float64(len(r.channels)))
	slog.Info("Channel closed", "poll_id", ch.key)
}

// handleDeliver ignores payloads relayed by a channel that has since been
// closed, even if a new channel with the same key exists.
func (r *Registry) handleDeliver(c deliverCmd) {
	if r.channels[c.channel.key] != c.channel {
		return
	}
	c.channel.broadcast(c.payload)
}

func (r *Registry) handleStop() {
	viewers := 0
	for _, ch := range r.channels {
		viewers += len(ch.viewers)
	}
	slog.Info("Registry shutting down", "channels", len(r.channels), "viewers", viewers)

	r.closeAll("server shutting down")
}

// closeAll closes every viewer with reason and every channel.
func (r *Registry) closeAll(reason string) {
	for _, ch := range r.channels {
		for _, v := range ch.viewers {
			v.stopGraceful(reason)
			metrics.FanoutViewers.Dec()
		}
		ch.viewers = nil
		r.closeChannel(ch)
	}
}
