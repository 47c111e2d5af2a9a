package faststore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robalyx/resonance/internal/geo"
)

// janitorInterval is how often expired keys are purged from memory.
const janitorInterval = 30 * time.Second

type stringEntry struct {
	value   string
	expires time.Time
}

type hashEntry struct {
	fields  map[string]string
	expires time.Time
}

// Memory is an in-process Store for single-instance deployments and tests.
// A single mutex makes every operation, including the multi-key ones, atomic.
type Memory struct {
	mu      sync.Mutex
	strings map[string]*stringEntry
	hashes  map[string]*hashEntry
	sets    map[string]map[string]struct{}
	geos    map[string]map[string]GeoMember
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces the clock used for expiry decisions.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-process store and starts its janitor.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		strings: make(map[string]*stringEntry),
		hashes:  make(map[string]*hashEntry),
		sets:    make(map[string]map[string]struct{}),
		geos:    make(map[string]map[string]GeoMember),
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	go m.janitor()

	return m
}

// Get returns the string value of key.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.stringLocked(key)
	if entry == nil {
		return "", ErrNil
	}

	return entry.value, nil
}

// MGet returns the values of the keys that exist.
func (m *Memory) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if entry := m.stringLocked(key); entry != nil {
			result[key] = entry.value
		}
	}

	return result, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(key)
	m.strings[key] = &stringEntry{value: value, expires: m.expiry(ttl)}

	return nil
}

// Del removes keys.
func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		m.deleteLocked(key)
	}

	return nil
}

// HSet replaces the whole hash at key.
func (m *Memory) HSet(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(key)

	copied := make(map[string]string, len(fields))
	for field, value := range fields {
		copied[field] = value
	}

	m.hashes[key] = &hashEntry{fields: copied, expires: m.expiry(ttl)}

	return nil
}

// HGetAll returns a copy of the hash at key.
func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.hashCopyLocked(key), nil
}

// HGetAllMulti returns copies of the hashes at keys.
func (m *Memory) HGetAllMulti(_ context.Context, keys ...string) ([]map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]map[string]string, len(keys))
	for i, key := range keys {
		results[i] = m.hashCopyLocked(key)
	}

	return results, nil
}

// HTouch writes fields and extends the ttl only if key exists.
func (m *Memory) HTouch(_ context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.hashLocked(key)
	if entry == nil {
		return false, nil
	}

	for field, value := range fields {
		entry.fields[field] = value
	}

	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}

	return true, nil
}

// SUnion returns the union of the sets at keys.
func (m *Memory) SUnion(_ context.Context, keys ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	for _, key := range keys {
		for member := range m.sets[key] {
			seen[member] = struct{}{}
		}
	}

	members := make([]string, 0, len(seen))
	for member := range seen {
		members = append(members, member)
	}

	sort.Strings(members)

	return members, nil
}

// SetMembership moves member between sets atomically.
func (m *Memory) SetMembership(_ context.Context, index, member, data string, sets []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.indexLocked(index)
	m.leaveSetsLocked(entry.fields["s:"+member], member)

	for _, set := range sets {
		if m.sets[set] == nil {
			m.sets[set] = make(map[string]struct{})
		}

		m.sets[set][member] = struct{}{}
	}

	entry.fields["d:"+member] = data
	entry.fields["s:"+member] = strings.Join(sets, " ")

	return nil
}

// RemoveMembership removes member from index and its sets.
func (m *Memory) RemoveMembership(_ context.Context, index, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.hashLocked(index)
	if entry == nil {
		return nil
	}

	m.leaveSetsLocked(entry.fields["s:"+member], member)
	delete(entry.fields, "d:"+member)
	delete(entry.fields, "s:"+member)

	return nil
}

// Membership returns the data recorded for member.
func (m *Memory) Membership(_ context.Context, index, member string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.hashLocked(index)
	if entry == nil {
		return "", ErrNil
	}

	data, ok := entry.fields["d:"+member]
	if !ok {
		return "", ErrNil
	}

	return data, nil
}

// GeoAdd upserts member at the given coordinates.
func (m *Memory) GeoAdd(_ context.Context, key, member string, lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.geos[key] == nil {
		m.geos[key] = make(map[string]GeoMember)
	}

	m.geos[key][member] = GeoMember{Member: member, Latitude: lat, Longitude: lng}

	return nil
}

// GeoRemove removes member from the geo set.
func (m *Memory) GeoRemove(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.geos[key], member)

	return nil
}

// GeoRemoveUnless removes member unless guard exists.
func (m *Memory) GeoRemoveUnless(_ context.Context, key, member, guard string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stringLocked(guard) != nil {
		return false, nil
	}

	if _, ok := m.geos[key][member]; !ok {
		return false, nil
	}

	delete(m.geos[key], member)

	return true, nil
}

// GeoRadius returns members within radius meters, nearest first.
func (m *Memory) GeoRadius(
	_ context.Context, key string, lat, lng, radius float64, count int,
) ([]GeoMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type scored struct {
		member   GeoMember
		distance float64
	}

	center := geo.Point{Latitude: lat, Longitude: lng}
	matches := make([]scored, 0)

	for _, member := range m.geos[key] {
		distance := geo.Distance(center, geo.Point{Latitude: member.Latitude, Longitude: member.Longitude})
		if distance <= radius {
			matches = append(matches, scored{member: member, distance: distance})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distance == matches[j].distance {
			return matches[i].member.Member < matches[j].member.Member
		}
		return matches[i].distance < matches[j].distance
	})

	if count > 0 && len(matches) > count {
		matches = matches[:count]
	}

	members := make([]GeoMember, len(matches))
	for i, match := range matches {
		members[i] = match.member
	}

	return members, nil
}

// SetIfNewer stores value when version is not lower than the stored version.
func (m *Memory) SetIfNewer(
	_ context.Context, key string, version int64, value string, ttl time.Duration,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry := m.hashLocked(key); entry != nil {
		current, err := strconv.ParseInt(entry.fields["v"], 10, 64)
		if err == nil && current > version {
			return false, nil
		}
	}

	m.deleteLocked(key)
	m.hashes[key] = &hashEntry{
		fields:  map[string]string{"v": strconv.FormatInt(version, 10), "d": value},
		expires: m.expiry(ttl),
	}

	return true, nil
}

// GetVersioned returns the value and version stored by SetIfNewer.
func (m *Memory) GetVersioned(_ context.Context, key string) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.hashLocked(key)
	if entry == nil {
		return "", 0, ErrNil
	}

	version, err := strconv.ParseInt(entry.fields["v"], 10, 64)
	if err != nil {
		return "", 0, ErrNil
	}

	return entry.fields["d"], version, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close stops the janitor goroutine.
func (m *Memory) Close() {
	m.once.Do(func() {
		close(m.stop)
	})
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}

	return m.now().Add(ttl)
}

func (m *Memory) expired(expires time.Time) bool {
	return !expires.IsZero() && !m.now().Before(expires)
}

func (m *Memory) stringLocked(key string) *stringEntry {
	entry, ok := m.strings[key]
	if !ok {
		return nil
	}

	if m.expired(entry.expires) {
		delete(m.strings, key)
		return nil
	}

	return entry
}

func (m *Memory) hashLocked(key string) *hashEntry {
	entry, ok := m.hashes[key]
	if !ok {
		return nil
	}

	if m.expired(entry.expires) {
		delete(m.hashes, key)
		return nil
	}

	return entry
}

func (m *Memory) hashCopyLocked(key string) map[string]string {
	entry := m.hashLocked(key)
	if entry == nil {
		return map[string]string{}
	}

	copied := make(map[string]string, len(entry.fields))
	for field, value := range entry.fields {
		copied[field] = value
	}

	return copied
}

func (m *Memory) indexLocked(key string) *hashEntry {
	entry := m.hashLocked(key)
	if entry == nil {
		entry = &hashEntry{fields: make(map[string]string)}
		m.hashes[key] = entry
	}

	return entry
}

func (m *Memory) leaveSetsLocked(joined, member string) {
	for _, set := range strings.Fields(joined) {
		delete(m.sets[set], member)

		if len(m.sets[set]) == 0 {
			delete(m.sets, set)
		}
	}
}

func (m *Memory) deleteLocked(key string) {
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.sets, key)
	delete(m.geos, key)
}

// janitor periodically removes expired entries.
func (m *Memory) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			for key, entry := range m.strings {
				if m.expired(entry.expires) {
					delete(m.strings, key)
				}
			}
			for key, entry := range m.hashes {
				if m.expired(entry.expires) {
					delete(m.hashes, key)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}
