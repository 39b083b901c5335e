package broker

import goredis "github.com/redis/go-redis/v9"

// receiveScript claims the oldest visible message of a queue: it rescores the
// id to the new visibility deadline, bumps the receive count and stores the
// receipt. Orphaned ids whose hash is gone are dropped.
//
// KEYS[1] queue sorted set
// ARGV[1] now (ms), ARGV[2] visible-until (ms), ARGV[3] receipt, ARGV[4] message key prefix
var receiveScript = goredis.NewScript(`
while true do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
  if #ids == 0 then
    return false
  end
  local id = ids[1]
  local key = ARGV[4] .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[1], ARGV[2], id)
    local count = redis.call('HINCRBY', key, 'receive_count', 1)
    redis.call('HSET', key, 'receipt', ARGV[3])
    local fields = redis.call('HMGET', key, 'body', 'sent_at')
    return {id, fields[1], fields[2], count}
  end
  redis.call('ZREM', KEYS[1], id)
end
`)

// extendScript moves the visibility deadline only while the receipt matches.
//
// KEYS[1] queue sorted set, KEYS[2] message hash
// ARGV[1] receipt, ARGV[2] visible-until (ms), ARGV[3] message id
var extendScript = goredis.NewScript(`
if redis.call('HGET', KEYS[2], 'receipt') ~= ARGV[1] then
  return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[3])
return 1
`)
