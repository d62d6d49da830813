package channels

import "sync/atomic"

// BaseChannel carries the state every chat frontend shares: its name, the
// sender allowlist and the running flag.
type BaseChannel struct {
	name      string
	allowFrom []string
	running   atomic.Bool
}

func NewBaseChannel(name string, allowFrom []string) *BaseChannel {
	return &BaseChannel{name: name, allowFrom: allowFrom}
}

func (b *BaseChannel) Name() string {
	return b.name
}

func (b *BaseChannel) IsRunning() bool {
	return b.running.Load()
}

func (b *BaseChannel) setRunning(v bool) {
	b.running.Store(v)
}

// IsAllowed reports whether a sender may talk to the bot. An empty allowlist
// admits everyone.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	for _, allowed := range b.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}
