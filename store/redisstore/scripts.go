package redisstore

import "github.com/redis/go-redis/v9"

// createIndexedDoc stores a JSON document behind a unique secondary index.
// Returns 0 when the index is taken and -1 when the document key exists.
const createIndexedDocScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return -1
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`

var createIndexedDocLua = redis.NewScript(createIndexedDocScript)

const createDocScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`

var createDocLua = redis.NewScript(createDocScript)

const deleteDocScript = `
local deleted = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return deleted
`

var deleteDocLua = redis.NewScript(deleteDocScript)

// createRecord stores an expiring hash record (session or token) and indexes
// it by owner and by expiry. ARGV[4..] are field/value pairs.
const createRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 4))
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[1])
return 1
`

var createRecordLua = redis.NewScript(createRecordScript)

// deleteRecord removes a hash record and its index entries. When ARGV[3] is
// set, the record is removed only if it expired at or before that instant.
const deleteRecordScript = `
local fields = redis.call("HMGET", KEYS[1], "user_id", "expires")
if not fields[1] then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return 0
end
if ARGV[3] ~= "" and tonumber(fields[2]) > tonumber(ARGV[3]) then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[2] .. fields[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`

var deleteRecordLua = redis.NewScript(deleteRecordScript)

// updateSessionExpiry moves the expiry of a session that is still live at
// ARGV[3]. Returns the owner and creation fields, or false.
const updateSessionExpiryScript = `
local current = redis.call("HGET", KEYS[1], "expires")
if not current then
  return false
end
if tonumber(current) <= tonumber(ARGV[3]) then
  return false
end
redis.call("HSET", KEYS[1], "expires", ARGV[2])
redis.call("PEXPIREAT", KEYS[1], ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return redis.call("HMGET", KEYS[1], "user_id", "created")
`

var updateSessionExpiryLua = redis.NewScript(updateSessionExpiryScript)

// consumeToken is the atomic find-and-delete. The token is removed whether or
// not it has expired; the caller judges expiry on the returned fields.
const consumeTokenScript = `
local f = redis.call("HMGET", KEYS[1], "user_id", "email", "type", "expires", "created")
if not f[1] then
  return false
end
if f[1] ~= ARGV[2] or f[3] ~= ARGV[3] then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[4] .. f[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return f
`

var consumeTokenLua = redis.NewScript(consumeTokenScript)

// userPermission adds (ARGV[2] == "add") or removes one direct grant inside
// a JSON user document. An empty list is dropped from the document so it
// decodes back to nil. Returns the stored document, or false when missing.
const userPermissionScript = `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return false
end
local doc = cjson.decode(raw)
local perms = doc["permissions"]
if type(perms) ~= "table" then
  perms = {}
end
local kept = {}
local found = false
for _, p in ipairs(perms) do
  if p == ARGV[1] then
    found = true
    if ARGV[2] == "add" then
      table.insert(kept, p)
    end
  else
    table.insert(kept, p)
  end
end
if ARGV[2] == "add" and not found then
  table.insert(kept, ARGV[1])
end
if (ARGV[2] == "add") == found then
  return raw
end
if #kept == 0 then
  doc["permissions"] = nil
else
  doc["permissions"] = kept
end
doc["updated_at"] = ARGV[3]
local out = cjson.encode(doc)
redis.call("SET", KEYS[1], out)
return out
`

var userPermissionLua = redis.NewScript(userPermissionScript)
