package faststore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
	"github.com/robalyx/resonance/internal/apperr"
)

// Redis is a Store backed by a rueidis client.
type Redis struct {
	client rueidis.Client
}

// NewRedis creates a Store on top of an existing rueidis client.
// The client is owned by the caller's Redis manager and is not closed by Close.
func NewRedis(client rueidis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the string value of key.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Do(ctx, r.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		return "", classify(err)
	}

	return value, nil
}

// MGet returns the values of the keys that exist.
func (r *Redis) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	values, err := r.client.Do(ctx, r.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, classify(err)
	}

	for i, value := range values {
		if i >= len(keys) || value.IsNil() {
			continue
		}

		s, err := value.ToString()
		if err != nil {
			continue
		}

		result[keys[i]] = s
	}

	return result, nil
}

// Set stores value under key.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var cmd rueidis.Completed
	if ttl > 0 {
		cmd = r.client.B().Set().Key(key).Value(value).Ex(ttl).Build()
	} else {
		cmd = r.client.B().Set().Key(key).Value(value).Build()
	}

	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return classify(err)
	}

	return nil
}

// Del removes keys.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Do(ctx, r.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return classify(err)
	}

	return nil
}

// HSet replaces the whole hash at key.
func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	args := hashArgs(ttl, fields)
	if err := replaceHashScript.Exec(ctx, r.client, []string{key}, args).Error(); err != nil {
		return classify(err)
	}

	return nil
}

// HGetAll returns the hash at key.
func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.Do(ctx, r.client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return map[string]string{}, nil
		}

		return nil, classify(err)
	}

	return fields, nil
}

// HGetAllMulti pipelines HGETALL for every key.
func (r *Redis) HGetAllMulti(ctx context.Context, keys ...string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make(rueidis.Commands, 0, len(keys))
	for _, key := range keys {
		cmds = append(cmds, r.client.B().Hgetall().Key(key).Build())
	}

	results := make([]map[string]string, len(keys))
	for i, resp := range r.client.DoMulti(ctx, cmds...) {
		fields, err := resp.AsStrMap()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				results[i] = map[string]string{}
				continue
			}

			return nil, classify(err)
		}

		results[i] = fields
	}

	return results, nil
}

// HTouch writes fields and extends the ttl only if key exists.
func (r *Redis) HTouch(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	args := hashArgs(ttl, fields)

	touched, err := touchHashScript.Exec(ctx, r.client, []string{key}, args).AsInt64()
	if err != nil {
		return false, classify(err)
	}

	return touched == 1, nil
}

// SUnion returns the union of the sets at keys.
func (r *Redis) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	members, err := r.client.Do(ctx, r.client.B().Sunion().Key(keys...).Build()).AsStrSlice()
	if err != nil {
		return nil, classify(err)
	}

	return members, nil
}

// SetMembership moves member between sets atomically.
func (r *Redis) SetMembership(ctx context.Context, index, member, data string, sets []string) error {
	args := make([]string, 0, len(sets)+2)
	args = append(args, member, data)
	args = append(args, sets...)

	if err := setMembershipScript.Exec(ctx, r.client, []string{index}, args).Error(); err != nil {
		return classify(err)
	}

	return nil
}

// RemoveMembership removes member from index and its sets.
func (r *Redis) RemoveMembership(ctx context.Context, index, member string) error {
	if err := removeMembershipScript.Exec(ctx, r.client, []string{index}, []string{member}).Error(); err != nil {
		return classify(err)
	}

	return nil
}

// Membership returns the data recorded for member.
func (r *Redis) Membership(ctx context.Context, index, member string) (string, error) {
	data, err := r.client.Do(ctx, r.client.B().Hget().Key(index).Field("d:"+member).Build()).ToString()
	if err != nil {
		return "", classify(err)
	}

	return data, nil
}

// GeoAdd upserts member at the given coordinates.
func (r *Redis) GeoAdd(ctx context.Context, key, member string, lat, lng float64) error {
	cmd := r.client.B().Arbitrary("GEOADD").Keys(key).
		Args(formatFloat(lng), formatFloat(lat), member).
		Build()

	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return classify(err)
	}

	return nil
}

// GeoRemove removes member from the geo set.
func (r *Redis) GeoRemove(ctx context.Context, key, member string) error {
	if err := r.client.Do(ctx, r.client.B().Zrem().Key(key).Member(member).Build()).Error(); err != nil {
		return classify(err)
	}

	return nil
}

// GeoRemoveUnless removes member unless guard exists, in one script call.
func (r *Redis) GeoRemoveUnless(ctx context.Context, key, member, guard string) (bool, error) {
	removed, err := geoRemoveUnlessScript.Exec(ctx, r.client, []string{key, guard}, []string{member}).AsInt64()
	if err != nil {
		return false, classify(err)
	}

	return removed == 1, nil
}

// GeoRadius returns members within radius meters of the given point, nearest first.
func (r *Redis) GeoRadius(
	ctx context.Context, key string, lat, lng, radius float64, count int,
) ([]GeoMember, error) {
	args := []string{formatFloat(lng), formatFloat(lat), formatFloat(radius), "m", "WITHCOORD", "ASC"}
	if count > 0 {
		args = append(args, "COUNT", strconv.Itoa(count))
	}

	items, err := r.client.Do(ctx, r.client.B().Arbitrary("GEORADIUS").Keys(key).Args(args...).Build()).ToArray()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		return nil, classify(err)
	}

	members := make([]GeoMember, 0, len(items))
	for _, item := range items {
		parts, err := item.ToArray()
		if err != nil || len(parts) < 2 {
			continue
		}

		name, err := parts[0].ToString()
		if err != nil {
			continue
		}

		coords, err := parts[len(parts)-1].ToArray()
		if err != nil || len(coords) != 2 {
			continue
		}

		memberLng, errLng := coords[0].AsFloat64()
		memberLat, errLat := coords[1].AsFloat64()
		if errLng != nil || errLat != nil {
			continue
		}

		members = append(members, GeoMember{Member: name, Latitude: memberLat, Longitude: memberLng})
	}

	return members, nil
}

// SetIfNewer stores value when version is not lower than the stored version.
func (r *Redis) SetIfNewer(
	ctx context.Context, key string, version int64, value string, ttl time.Duration,
) (bool, error) {
	args := []string{strconv.FormatInt(version, 10), value, strconv.FormatInt(ttl.Milliseconds(), 10)}

	stored, err := setIfNewerScript.Exec(ctx, r.client, []string{key}, args).AsInt64()
	if err != nil {
		return false, classify(err)
	}

	return stored == 1, nil
}

// GetVersioned returns the value and version stored by SetIfNewer.
func (r *Redis) GetVersioned(ctx context.Context, key string) (string, int64, error) {
	fields, err := r.HGetAll(ctx, key)
	if err != nil {
		return "", 0, err
	}

	value, ok := fields["d"]
	if !ok {
		return "", 0, ErrNil
	}

	version, err := strconv.ParseInt(fields["v"], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid version stamp on %s: %w", key, err)
	}

	return value, version, nil
}

// Ping checks that Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return classify(err)
	}

	return nil
}

// Close is a no-op; the Redis manager owns the client.
func (r *Redis) Close() {}

// classify maps rueidis errors onto the store's error kinds.
// Error replies from the server are returned as is, transport failures are Unavailable.
func classify(err error) error {
	if rueidis.IsRedisNil(err) {
		return ErrNil
	}

	if _, ok := rueidis.IsRedisErr(err); ok {
		return err
	}

	return apperr.Unavailable(err)
}

func hashArgs(ttl time.Duration, fields map[string]string) []string {
	args := make([]string, 0, len(fields)*2+1)
	args = append(args, strconv.FormatInt(ttl.Milliseconds(), 10))

	for field, value := range fields {
		args = append(args, field, value)
	}

	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
