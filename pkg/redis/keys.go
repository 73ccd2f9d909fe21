package redis

import "strings"

const defaultNamespace = "ep"

// Keyspace builds namespaced keys so every binary sharing the Redis
// instance agrees on layout: <ns>:<kind>:<parts...>.
type Keyspace struct {
	ns string
}

func (k Keyspace) key(kind string, parts ...string) string {
	ns := k.ns
	if ns == "" {
		ns = defaultNamespace
	}
	b := strings.Builder{}
	b.WriteString(ns)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}

func (k Keyspace) IdempotencyKey(scope, id string) string { return k.key("idempotency", scope, id) }
func (k Keyspace) RateLimitKey(scope string) string       { return k.key("rate_limit", scope) }
func (k Keyspace) LockKey(name string) string             { return k.key("lock", name) }
func (k Keyspace) ChannelName(name string) string         { return k.key("channel", name) }
