/*
Package log provides structured logging for asaengine using zerolog.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.Info("engine starting")

	taskLog := log.WithTaskID(task.ID)
	taskLog.Info().Str("state", string(task.Status)).Msg("state entered")

# Context loggers

WithComponent, WithTaskID, WithJobID, and WithPrincipal each return a child
zerolog.Logger with one extra field set, so deeply nested calls (a patch
applicator running inside an orchestrator effect running inside a worker)
don't need the task ID threaded through every function signature.

# Security

Never log bug descriptions' raw repo credentials, LLM API keys, or forge
tokens. pkg/config holds these as plain strings in Config.Credentials and
does not redact them.
*/
package log
