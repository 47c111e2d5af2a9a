package faststore

import "github.com/redis/rueidis"

// Every script returns an integer so that rueidis can decode the reply with AsInt64.
var (
	// replaceHashScript: KEYS[1]=hash, ARGV[1]=ttl ms, ARGV[2..]=field/value pairs.
	replaceHashScript = rueidis.NewLuaScript(`
redis.call('DEL', KEYS[1])
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

	// touchHashScript: KEYS[1]=hash, ARGV[1]=ttl ms, ARGV[2..]=field/value pairs.
	touchHashScript = rueidis.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

	// setMembershipScript: KEYS[1]=index, ARGV[1]=member, ARGV[2]=data, ARGV[3..]=sets.
	setMembershipScript = rueidis.NewLuaScript(`
local old = redis.call('HGET', KEYS[1], 's:' .. ARGV[1])
if old then
	for set in string.gmatch(old, '%S+') do
		redis.call('SREM', set, ARGV[1])
	end
end
local sets = {}
for i = 3, #ARGV do
	redis.call('SADD', ARGV[i], ARGV[1])
	sets[#sets + 1] = ARGV[i]
end
redis.call('HSET', KEYS[1], 'd:' .. ARGV[1], ARGV[2], 's:' .. ARGV[1], table.concat(sets, ' '))
return 1
`)

	// removeMembershipScript: KEYS[1]=index, ARGV[1]=member.
	removeMembershipScript = rueidis.NewLuaScript(`
local old = redis.call('HGET', KEYS[1], 's:' .. ARGV[1])
if old then
	for set in string.gmatch(old, '%S+') do
		redis.call('SREM', set, ARGV[1])
	end
end
return redis.call('HDEL', KEYS[1], 'd:' .. ARGV[1], 's:' .. ARGV[1])
`)

	// geoRemoveUnlessScript: KEYS[1]=geo set, KEYS[2]=guard, ARGV[1]=member.
	geoRemoveUnlessScript = rueidis.NewLuaScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

	// setIfNewerScript: KEYS[1]=hash, ARGV[1]=version, ARGV[2]=value, ARGV[3]=ttl ms.
	setIfNewerScript = rueidis.NewLuaScript(`
local current = redis.call('HGET', KEYS[1], 'v')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)
)
