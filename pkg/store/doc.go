// Package store is durable persistence for tasks, LLM usage, patch-adjacent
// history, feedback, and evaluation records. PostgresStore (jmoiron/sqlx +
// jackc/pgx/v5) is the production backend; BoltStore (go.etcd.io/bbolt) is
// an embedded, zero-external-dependency alternative for single-binary or
// local-dev deployments. Both implement Store.
package store
