package liveupdate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Defaults for [Options].
const (
	DefaultConnectDelay = 1500 * time.Millisecond
	DefaultMinBackoff   = time.Second
	DefaultMaxBackoff   = 30 * time.Second
)

// State is the connection state of a [Channel].
type State int

const (
	StateIdle State = iota
	StatePending
	StateOpen
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	default:
		return "idle"
	}
}

// Options configures a [Channel].
type Options struct {
	// ConnectDelay postpones the dial after Connect. Zero uses
	// DefaultConnectDelay and a negative value dials immediately.
	ConnectDelay time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	// MinLifetime is how long a stream must stay up for its end to count as
	// a server-side close. Shorter streams are treated as transport failures
	// and reopen only after backoff. Zero uses MinBackoff and a negative
	// value reopens every ended stream at once.
	MinLifetime time.Duration
	Logger      *log.Logger
}

func (o *Options) setDefaults() {
	switch {
	case o.ConnectDelay == 0:
		o.ConnectDelay = DefaultConnectDelay
	case o.ConnectDelay < 0:
		o.ConnectDelay = 0
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = DefaultMinBackoff
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = max(DefaultMaxBackoff, o.MinBackoff)
	}
	switch {
	case o.MinLifetime == 0:
		o.MinLifetime = o.MinBackoff
	case o.MinLifetime < 0:
		o.MinLifetime = 0
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// nextBackoff doubles cur inside [lo, hi]. A zero cur starts at lo.
func nextBackoff(cur, lo, hi time.Duration) time.Duration {
	if cur <= 0 {
		return lo
	}
	return min(cur*2, hi)
}

// ended reports that the reader of connection gen stopped.
type ended struct {
	gen       uint64
	connected bool
	lived     time.Duration // time since the dial returned
	err       error
}

// Channel follows one topic and hands every decoded message to a callback.
// All state lives in one goroutine; the exported methods post to it and wait.
type Channel[T any] struct {
	ctx    context.Context
	dialer Dialer
	handle func(topic string, msg T)
	opts   Options
	logger *log.Logger

	cmds  chan func()
	ends  chan ended
	done  chan struct{}
	timer *time.Timer

	// Owned by the loop goroutine.
	state     State
	topic     string
	destroyed bool
	gen       uint64
	cancel    context.CancelFunc
	backoff   time.Duration
	dials     int
}

// New starts a channel. It stays idle until Connect and stops for good when
// ctx is done. handle runs on the reader goroutine, one message at a time.
func New[T any](ctx context.Context, dialer Dialer, handle func(topic string, msg T), opts Options) *Channel[T] {
	opts.setDefaults()
	c := &Channel[T]{
		ctx:    ctx,
		dialer: dialer,
		handle: handle,
		opts:   opts,
		logger: opts.Logger,
		cmds:   make(chan func()),
		ends:   make(chan ended),
		done:   make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Channel[T]) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.disconnect()
			return
		case fn := <-c.cmds:
			if c.ctx.Err() != nil {
				c.disconnect()
				return
			}
			fn()
		case <-c.timerC():
			c.timer = nil
			c.open()
		case e := <-c.ends:
			c.onEnded(e)
		}
	}
}

// exec runs fn on the loop goroutine. It does nothing once the channel has
// stopped.
func (c *Channel[T]) exec(fn func()) {
	wait := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(wait) }:
	case <-c.done:
		return
	}
	select {
	case <-wait:
	case <-c.done:
	}
}

func (c *Channel[T]) timerC() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

func (c *Channel[T]) schedule(d time.Duration) {
	c.stopTimer()
	c.state = StatePending
	c.timer = time.NewTimer(d)
}

func (c *Channel[T]) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Connect follows topic. Connecting to the current topic is a no-op and a
// destroyed channel ignores the call.
func (c *Channel[T]) Connect(topic string) {
	c.exec(func() {
		if c.destroyed || topic == "" {
			return
		}
		if topic == c.topic && c.state != StateIdle {
			return
		}
		c.disconnect()
		c.topic = topic
		c.backoff = 0
		if c.opts.ConnectDelay > 0 {
			c.schedule(c.opts.ConnectDelay)
			return
		}
		c.open()
	})
}

// Close drops the current connection, or a dial that has not happened yet,
// and does not reopen it.
func (c *Channel[T]) Close() {
	c.exec(func() {
		c.disconnect()
		c.topic = ""
	})
}

// Destroy closes the channel and ignores every Connect until Activate.
func (c *Channel[T]) Destroy() {
	c.exec(func() {
		c.disconnect()
		c.topic = ""
		c.destroyed = true
	})
}

// Activate lifts a previous Destroy. It does not reconnect by itself.
func (c *Channel[T]) Activate() {
	c.exec(func() { c.destroyed = false })
}

// State returns the current state.
func (c *Channel[T]) State() State {
	s := StateIdle
	c.exec(func() { s = c.state })
	return s
}

// Topic returns the followed topic, or "" when idle.
func (c *Channel[T]) Topic() string {
	var t string
	c.exec(func() { t = c.topic })
	return t
}

// Dials returns how many connections the channel has attempted.
func (c *Channel[T]) Dials() int {
	var n int
	c.exec(func() { n = c.dials })
	return n
}

// disconnect cancels the open stream and any pending dial. Bumping gen makes
// the reader's end report stale.
func (c *Channel[T]) disconnect() {
	c.stopTimer()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.state = StateIdle
}

func (c *Channel[T]) open() {
	c.gen++
	c.dials++
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	c.state = StateOpen
	go c.read(ctx, c.gen, c.topic)
}

func (c *Channel[T]) onEnded(e ended) {
	if e.gen != c.gen {
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	// A stream that ends right after the dial is a server that accepts and
	// drops; it backs off like a refused dial.
	settled := e.connected && e.lived >= c.opts.MinLifetime
	if settled && errors.Is(e.err, io.EOF) {
		c.logger.Debug("stream ended by server, reopening", "topic", c.topic)
		c.backoff = 0
		c.open()
		return
	}
	// A stream that was up and then broke restarts from the floor.
	if settled {
		c.backoff = 0
	}
	c.backoff = nextBackoff(c.backoff, c.opts.MinBackoff, c.opts.MaxBackoff)
	c.logger.Warn("stream failed", "topic", c.topic, "error", e.err, "retry_in", c.backoff)
	c.schedule(c.backoff)
}

func (c *Channel[T]) read(ctx context.Context, gen uint64, topic string) {
	e := ended{gen: gen}
	defer func() {
		select {
		case c.ends <- e:
		case <-c.done:
		}
	}()

	stream, err := c.dialer.Dial(ctx, topic)
	if err != nil {
		e.err = err
		return
	}
	e.connected = true
	up := time.Now()
	defer func() { e.lived = time.Since(up) }()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer func() {
		if stop() {
			stream.Close()
		}
	}()

	for {
		data, err := stream.Next()
		if err != nil {
			e.err = err
			return
		}
		var msg T
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed message", "topic", topic, "error", err)
			continue
		}
		if ctx.Err() != nil {
			e.err = ctx.Err()
			return
		}
		c.handle(topic, msg)
	}
}
