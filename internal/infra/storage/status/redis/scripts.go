package redis

import "github.com/go-redis/redis"

// Every script answers with a status word followed by the flattened job
// hash, so one round trip both mutates and reads the document.

const replyHelper = `
local function reply(status)
  local out = redis.call('HGETALL', KEYS[1])
  table.insert(out, 1, status)
  return out
end
local function touch(ttl)
  if ttl > 0 then
    for _, k in ipairs(KEYS) do redis.call('PEXPIRE', k, ttl) end
  end
end
`

// KEYS[1] job hash, KEYS[2] item set. ARGV[1] started_at, ARGV[2] ttl ms.
var createScript = redis.NewScript(replyHelper + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HMSET', KEYS[1], 'completed', 0, 'started_at', ARGV[1], 'updated_at', ARGV[1])
  touch(tonumber(ARGV[2]))
end
return reply('ok')
`)

// KEYS[1] job hash. ARGV[1] total, ARGV[2] now.
var setTotalScript = redis.NewScript(replyHelper + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {'not_found'} end
if redis.call('HEXISTS', KEYS[1], 'total') == 1 then return reply('total_set') end
local completed = tonumber(redis.call('HGET', KEYS[1], 'completed'))
local total = tonumber(ARGV[1])
if completed > total then total = completed end
redis.call('HMSET', KEYS[1], 'total', total, 'updated_at', ARGV[2])
if completed >= total and redis.call('HEXISTS', KEYS[1], 'completed_at') == 0 then
  redis.call('HSET', KEYS[1], 'completed_at', ARGV[2])
end
return reply('ok')
`)

// KEYS[1] job hash, KEYS[2] item set. ARGV[1] item key, ARGV[2] now,
// ARGV[3] ttl ms.
var recordCompletionScript = redis.NewScript(replyHelper + `
if redis.call('EXISTS', KEYS[1]) == 0 then return {'not_found'} end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then return reply('duplicate') end
local completed = tonumber(redis.call('HGET', KEYS[1], 'completed'))
local total = redis.call('HGET', KEYS[1], 'total')
if total and completed >= tonumber(total) then return {'overflow'} end
redis.call('SADD', KEYS[2], ARGV[1])
completed = redis.call('HINCRBY', KEYS[1], 'completed', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
if total and completed >= tonumber(total) and redis.call('HEXISTS', KEYS[1], 'completed_at') == 0 then
  redis.call('HSET', KEYS[1], 'completed_at', ARGV[2])
end
touch(tonumber(ARGV[3]))
return reply('ok')
`)
