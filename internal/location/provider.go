package location

import (
	"context"
	"errors"
	"sync"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

// ErrNoFix is returned when the provider has not produced a position yet
var ErrNoFix = errors.New("no location fix available")

// Provider returns the latest known location. Implementations must return
// promptly: absent is preferred over waiting for a fix.
type Provider interface {
	CurrentLocation(ctx context.Context) (survey.Location, bool)
}

// Cache holds the last location pushed by a stream. Reads never block on the
// stream.
type Cache struct {
	mu  sync.RWMutex
	loc *survey.Location
}

// NewCache creates an empty Cache
func NewCache() *Cache {
	return &Cache{}
}

// Update replaces the cached location
func (c *Cache) Update(loc survey.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loc = &loc
}

// Clear drops the cached location
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loc = nil
}

// CurrentLocation returns the cached location, if any
func (c *Cache) CurrentLocation(_ context.Context) (survey.Location, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.loc == nil {
		return survey.Location{}, false
	}
	return *c.loc, true
}

// Static always reports the same position, for stationary surveys
type Static struct {
	loc survey.Location
}

// NewStatic creates a provider reporting latitude and longitude
func NewStatic(latitude, longitude float64) *Static {
	return &Static{loc: survey.Location{Latitude: latitude, Longitude: longitude}}
}

// CurrentLocation returns the fixed position
func (s *Static) CurrentLocation(_ context.Context) (survey.Location, bool) {
	return s.loc, true
}
