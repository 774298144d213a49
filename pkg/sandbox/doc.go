// Package sandbox runs a shell command against a cloned workspace under a
// wall-clock timeout, bounding stdout/stderr and reporting the exit code.
// It satisfies the orchestrator's SandboxRunner interface.
//
// Full container isolation — cgroups, namespaces, a container-runtime
// dependency — is out of scope: this is the subprocess boundary adapter
// the orchestrator drives, not a hardened multi-tenant executor.
package sandbox
