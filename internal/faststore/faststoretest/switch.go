// Package faststoretest provides fast store wrappers for tests.
package faststoretest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/faststore"
)

// ErrDown is the cause carried by every error of a disabled store.
var ErrDown = errors.New("fast store disabled")

// Switch wraps a store and fails every call with apperr.ErrUnavailable while down.
type Switch struct {
	faststore.Store

	down atomic.Bool
}

// NewSwitch wraps store. The switch starts up.
func NewSwitch(store faststore.Store) *Switch {
	return &Switch{Store: store}
}

// SetDown disables or re-enables the store.
func (s *Switch) SetDown(down bool) {
	s.down.Store(down)
}

func (s *Switch) check() error {
	if s.down.Load() {
		return apperr.Unavailable(ErrDown)
	}
	return nil
}

func (s *Switch) Get(ctx context.Context, key string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.Store.Get(ctx, key)
}

func (s *Switch) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.Store.MGet(ctx, keys...)
}

func (s *Switch) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func (s *Switch) Del(ctx context.Context, keys ...string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.Del(ctx, keys...)
}

func (s *Switch) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.HSet(ctx, key, fields, ttl)
}

func (s *Switch) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.Store.HGetAll(ctx, key)
}

func (s *Switch) HGetAllMulti(ctx context.Context, keys ...string) ([]map[string]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.Store.HGetAllMulti(ctx, keys...)
}

func (s *Switch) HTouch(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.Store.HTouch(ctx, key, fields, ttl)
}

func (s *Switch) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.Store.SUnion(ctx, keys...)
}

func (s *Switch) SetMembership(ctx context.Context, index, member, data string, sets []string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.SetMembership(ctx, index, member, data, sets)
}

func (s *Switch) RemoveMembership(ctx context.Context, index, member string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.RemoveMembership(ctx, index, member)
}

func (s *Switch) Membership(ctx context.Context, index, member string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.Store.Membership(ctx, index, member)
}

func (s *Switch) GeoAdd(ctx context.Context, key, member string, lat, lng float64) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.GeoAdd(ctx, key, member, lat, lng)
}

func (s *Switch) GeoRemove(ctx context.Context, key, member string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.GeoRemove(ctx, key, member)
}

func (s *Switch) GeoRemoveUnless(ctx context.Context, key, member, guard string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.Store.GeoRemoveUnless(ctx, key, member, guard)
}

func (s *Switch) GeoRadius(
	ctx context.Context, key string, lat, lng, radius float64, count int,
) ([]faststore.GeoMember, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.Store.GeoRadius(ctx, key, lat, lng, radius, count)
}

func (s *Switch) SetIfNewer(
	ctx context.Context, key string, version int64, value string, ttl time.Duration,
) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.Store.SetIfNewer(ctx, key, version, value, ttl)
}

func (s *Switch) GetVersioned(ctx context.Context, key string) (string, int64, error) {
	if err := s.check(); err != nil {
		return "", 0, err
	}
	return s.Store.GetVersioned(ctx, key)
}

func (s *Switch) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Store.Ping(ctx)
}
