package cache

// Pusher delivers change notifications to connected consumers. An empty
// target broadcasts to every connection. The cache managers only ever
// write to this channel; they never read from it.
type Pusher interface {
	Push(event string, payload any, target string) error
}

// Push event names emitted by the cache managers.
const (
	EventImageCacheUpdate = "image_cache_update"
	EventTextCacheUpdate  = "text_cache_update"
)
