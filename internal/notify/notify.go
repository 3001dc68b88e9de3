package notify

import (
	"sync"
	"time"
)

// DefaultTimeout is how long a notification stays visible.
const DefaultTimeout = 4 * time.Second

type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Error   Severity = "error"
	Warning Severity = "warning"
)

type Notification struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Visible  bool     `json:"visible"`
}

type Publisher interface {
	BroadcastNotification(n Notification)
}

// Channel holds at most one visible notification. Each Show overwrites the
// previous one and restarts the auto-dismiss timer.
type Channel struct {
	timeout   time.Duration
	publisher Publisher

	mu      sync.Mutex
	current Notification
	timer   *time.Timer
	seq     uint64
}

func NewChannel(timeout time.Duration, publisher Publisher) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Channel{timeout: timeout, publisher: publisher}
}

func (c *Channel) Show(message string, severity Severity) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.seq++
	seq := c.seq
	c.current = Notification{Message: message, Severity: severity, Visible: true}
	n := c.current
	c.timer = time.AfterFunc(c.timeout, func() { c.expire(seq) })
	c.mu.Unlock()

	c.publish(n)
}

func (c *Channel) Info(message string)    { c.Show(message, Info) }
func (c *Channel) Success(message string) { c.Show(message, Success) }
func (c *Channel) Error(message string)   { c.Show(message, Error) }
func (c *Channel) Warning(message string) { c.Show(message, Warning) }

// Dismiss hides the current notification immediately.
func (c *Channel) Dismiss() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.seq++
	wasVisible := c.current.Visible
	c.current = Notification{Severity: Info}
	n := c.current
	c.mu.Unlock()

	if wasVisible {
		c.publish(n)
	}
}

func (c *Channel) Current() Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Channel) expire(seq uint64) {
	c.mu.Lock()
	// A newer Show or Dismiss owns the slot now.
	if seq != c.seq {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.current = Notification{Severity: Info}
	n := c.current
	c.mu.Unlock()

	c.publish(n)
}

func (c *Channel) publish(n Notification) {
	if c.publisher != nil {
		c.publisher.BroadcastNotification(n)
	}
}
