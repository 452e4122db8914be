// Package redisstore implements the store interfaces on top of Redis.
//
// Collections are Redis lists: ItemCount is LLEN, FetchRange is LRANGE and
// Append is RPUSH, so insertion order is the list order. KV entries are plain
// string keys written with SET.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	st := redisstore.New(redisClient, redisstore.Options{})
//
//	count, err := st.ItemCount(ctx, "seen-example-com")
//	recs, err := st.FetchRange(ctx, "seen-example-com", store.Range{Offset: 0, Limit: 1000})
//	err = st.Append(ctx, "seen-example-com", store.Record(`{"path":"/a"}`))
//
// # Keys
//
//   - dedup:collection:<id> - list holding the JSON records of collection <id>
//   - dedup:kv:<key>        - KV value (ledger snapshots and similar state)
//
// # Metrics
//
//   - dedup_redis_operations_total{operation} - Redis calls by operation
//   - dedup_redis_errors_total{operation} - failed Redis calls by operation
package redisstore
