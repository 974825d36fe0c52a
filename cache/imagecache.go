package cache

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// ImageRef is the stored reference for one cached image. The image bytes
// live on disk in the host-provided temp directory; a get re-loads them by
// filename on demand.
type ImageRef struct {
	Filename      string `json:"filename"`
	Subfolder     string `json:"subfolder"`
	Type          string `json:"type"` // "temp" or "output"
	Timestamp     int64  `json:"timestamp"`
	BatchIndex    int    `json:"batch_index"`
	PreviewFormat string `json:"preview_format"` // "rgba" or "rgb"
}

// LoadedImage pairs a reference with the bytes re-read from disk.
type LoadedImage struct {
	Ref  ImageRef
	Data []byte
}

// ImageLookupResult is the explicit result of an image get. Empty means
// the channel had no loadable entries; callers pick their own fallback.
type ImageLookupResult struct {
	State  LookupState
	Images []LoadedImage
}

// Found reports whether any image loaded.
func (r ImageLookupResult) Found() bool {
	return r.State == LookupFound
}

// ImageCacheManagerOptions tunes an ImageCacheManager.
type ImageCacheManagerOptions struct {
	// Prefix is embedded in every generated filename.
	Prefix string
	// PreviewSize is the bounding square for generated preview thumbnails.
	// Zero disables previews.
	PreviewSize int
}

// ImageCacheManager is the image facade over a channel Store. Saves
// persist PNG files under the temp directory and append ImageRef entries
// to the channel; gets re-load bytes from disk. One instance per host
// process, constructed explicitly and passed to consumers.
type ImageCacheManager struct {
	store       *Store
	dir         string
	prefix      string
	previewSize int
	pusher      Pusher
}

// NewImageCacheManager creates an image cache writing into dir. The
// directory's lifecycle (cleanup, retention) is owned by the host.
// pusher may be nil to disable change notification.
func NewImageCacheManager(store *Store, dir string, pusher Pusher, opts *ImageCacheManagerOptions) *ImageCacheManager {
	prefix := "cached"
	preview := 256
	if opts != nil {
		if opts.Prefix != "" {
			prefix = opts.Prefix
		}
		preview = opts.PreviewSize
	}
	return &ImageCacheManager{
		store:       store,
		dir:         dir,
		prefix:      prefix,
		previewSize: preview,
		pusher:      pusher,
	}
}

// Store returns the underlying channel store.
func (m *ImageCacheManager) Store() *Store {
	return m.store
}

// Save persists a batch of images and appends their references to the
// named channel. With overwrite the channel's previous references are
// dropped first. An item that fails to encode is skipped with a logged
// error; a partial batch failure is not fatal to the whole save.
func (m *ImageCacheManager) Save(channel string, images []image.Image, overwrite bool, metadata map[string]any) []ImageRef {
	refs := make([]ImageRef, 0, len(images))
	stamp := nowMillis()
	for i, img := range images {
		if img == nil {
			slog.Warn("skipping nil image in cache save", "channel", channel, "index", i)
			continue
		}
		filename := fmt.Sprintf("%s_%s_%d_%05d.png", m.prefix, channel, stamp, i)
		path := filepath.Join(m.dir, filename)
		if err := imaging.Save(img, path); err != nil {
			slog.Error("failed to persist cached image", "channel", channel, "filename", filename, "error", err)
			continue
		}
		ref := ImageRef{
			Filename:      filename,
			Type:          "temp",
			Timestamp:     stamp,
			BatchIndex:    i,
			PreviewFormat: previewFormat(img),
		}
		if m.previewSize > 0 {
			m.savePreview(img, path)
		}
		refs = append(refs, ref)
	}

	items := make([]any, len(refs))
	for i, r := range refs {
		items[i] = r
	}
	m.store.Save(channel, items, overwrite)
	m.store.SetMetadata(channel, metadata)

	if m.pusher != nil && len(refs) > 0 {
		err := m.pusher.Push(EventImageCacheUpdate, map[string]any{
			"channel": channel,
			"count":   len(refs),
		}, "")
		if err != nil {
			slog.Warn("image cache update notification failed", "channel", channel, "error", err)
		}
	}
	return refs
}

// savePreview writes a thumbnail next to the full image. Preview failures
// only cost the preview, never the save.
func (m *ImageCacheManager) savePreview(img image.Image, path string) {
	thumb := imaging.Fit(img, m.previewSize, m.previewSize, imaging.Lanczos)
	previewPath := previewPathFor(path)
	if err := imaging.Save(thumb, previewPath); err != nil {
		slog.Warn("failed to write preview thumbnail", "path", previewPath, "error", err)
	}
}

// Get loads images back from the named channel. Entries whose backing
// file fails to load are skipped; if nothing loads the explicit empty
// result is returned. Never raises to the caller.
func (m *ImageCacheManager) Get(channel string, latestOnly bool, index int) ImageLookupResult {
	result := m.store.Get(channel, latestOnly, index)
	if !result.Found() {
		return ImageLookupResult{State: LookupEmpty}
	}

	loaded := make([]LoadedImage, 0, len(result.Items))
	for _, item := range result.Items {
		ref, ok := item.(ImageRef)
		if !ok {
			slog.Warn("unexpected item type in image channel", "channel", channel)
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, ref.Filename))
		if err != nil {
			slog.Error("failed to load cached image from disk", "channel", channel, "filename", ref.Filename, "error", err)
			continue
		}
		loaded = append(loaded, LoadedImage{Ref: ref, Data: data})
	}
	if len(loaded) == 0 {
		return ImageLookupResult{State: LookupEmpty}
	}
	return ImageLookupResult{State: LookupFound, Images: loaded}
}

// Refs returns the channel's stored references without touching the disk.
func (m *ImageCacheManager) Refs(channel string) []ImageRef {
	result := m.store.Get(channel, false, -1)
	refs := make([]ImageRef, 0, len(result.Items))
	for _, item := range result.Items {
		if ref, ok := item.(ImageRef); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Clear drops one channel's references. The underlying files are not
// deleted; the temp directory is host-owned.
func (m *ImageCacheManager) Clear(channel string) {
	m.store.Clear(channel)
}

// ClearAll drops every channel and resets the session counters.
func (m *ImageCacheManager) ClearAll() {
	m.store.ClearAll()
}

// Rename moves a channel to a new name.
func (m *ImageCacheManager) Rename(old, new string) bool {
	return m.store.Rename(old, new)
}

// ListChannels returns the known channel names.
func (m *ImageCacheManager) ListChannels() []string {
	return m.store.ListChannels()
}

// previewFormat reports "rgba" for images carrying an alpha channel,
// otherwise "rgb".
func previewFormat(img image.Image) string {
	switch img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64:
		return "rgba"
	default:
		return "rgb"
	}
}

func previewPathFor(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "_preview" + ext
}
