package kick

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/NeboLoop/kick-go-sdk/telemetry"
	"github.com/NeboLoop/kick-go-sdk/wire"
)

// ErrChannelUnavailable matches every ChannelUnavailableError.
var ErrChannelUnavailable = errors.New("kick: channel unavailable")

// ChannelUnavailableError reports a channel whose room id could not be
// resolved. Such a channel is never subscribed.
type ChannelUnavailableError struct {
	Slug string
	Err  error
}

func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("kick: channel %q unavailable: %v", e.Slug, e.Err)
}

func (e *ChannelUnavailableError) Unwrap() []error { return []error{ErrChannelUnavailable, e.Err} }

// MetadataFetcher loads channel metadata. *APIClient implements it.
type MetadataFetcher interface {
	GetChannel(ctx context.Context, slug string) (*ChannelInfo, error)
}

// Directory maps channel slugs to room ids and back. Entries are added on
// first resolution and kept for the directory's lifetime.
type Directory struct {
	fetch MetadataFetcher
	group singleflight.Group

	mu       sync.RWMutex
	channels map[string]*ChannelInfo // slug -> metadata
	slugs    map[wire.RoomID]string
}

// NewDirectory creates an empty directory backed by fetch.
func NewDirectory(fetch MetadataFetcher) *Directory {
	return &Directory{
		fetch:    fetch,
		channels: make(map[string]*ChannelInfo),
		slugs:    make(map[wire.RoomID]string),
	}
}

func normalizeSlug(slug string) string { return strings.ToLower(strings.TrimSpace(slug)) }

// Resolve returns the room id of a channel, fetching its metadata on first
// use. Concurrent resolutions of one slug share a single fetch.
func (d *Directory) Resolve(ctx context.Context, slug string) (wire.RoomID, error) {
	info, err := d.Channel(ctx, slug)
	if err != nil {
		return 0, err
	}
	return info.Chatroom.ID, nil
}

// Channel returns the cached metadata of a channel, fetching it if needed.
func (d *Directory) Channel(ctx context.Context, slug string) (*ChannelInfo, error) {
	key := normalizeSlug(slug)
	if key == "" {
		return nil, &ChannelUnavailableError{Slug: slug, Err: fmt.Errorf("%w: empty slug", ErrValidation)}
	}
	d.mu.RLock()
	info, ok := d.channels[key]
	d.mu.RUnlock()
	if ok {
		return info, nil
	}

	v, err, _ := d.group.Do(key, func() (any, error) {
		d.mu.RLock()
		info, ok := d.channels[key]
		d.mu.RUnlock()
		if ok {
			return info, nil
		}
		ctx, span := telemetry.StartSpan(ctx, "kick.directory.resolve", attribute.String("kick.channel", key))
		info, err := d.fetch.GetChannel(ctx, key)
		telemetry.End(span, err)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.channels[key] = info
		d.slugs[info.Chatroom.ID] = key
		d.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, &ChannelUnavailableError{Slug: key, Err: err}
	}
	return v.(*ChannelInfo), nil
}

// ResolveAll resolves slugs concurrently. On failure no room ids are
// returned and the error joins every ChannelUnavailableError.
func (d *Directory) ResolveAll(ctx context.Context, slugs []string) ([]wire.RoomID, error) {
	rooms := make([]wire.RoomID, len(slugs))
	errs := make([]error, len(slugs))
	var g errgroup.Group
	g.SetLimit(4)
	for i, slug := range slugs {
		g.Go(func() error {
			rooms[i], errs[i] = d.Resolve(ctx, slug)
			return nil
		})
	}
	g.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rooms, nil
}

// LookupSlug returns the slug a room was resolved from.
func (d *Directory) LookupSlug(room wire.RoomID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	slug, ok := d.slugs[room]
	return slug, ok
}

// LookupRoomID returns the cached room id of a slug without fetching.
func (d *Directory) LookupRoomID(slug string) (wire.RoomID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.channels[normalizeSlug(slug)]
	if !ok {
		return 0, false
	}
	return info.Chatroom.ID, true
}

// Len returns the number of cached channels.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.channels)
}
