/*
Package patch applies a PatchSet to a workspace with line-level precision.

Every touched file is backed up before its first mutation, under
<workspace>/.backups/<relative-dir>/<basename>.<unix-nano>.bak, so Rollback
can restore exactly what Apply overwrote — even across a PatchSet that
touches the same file more than once.

# Validation

Validate checks that the target file exists, start >= 1, end >= start,
end does not exceed the file's current line count (one past it for an
insert, since an insert may append after the last line), and that a
replace or insert carries non-empty replacement text — all before any
mutation happens. FailFast stops at the first violation; the default
mode accumulates every violation it finds.

# Apply / Rollback

Apply walks the PatchSet in order, backing up and splicing one file at a
time. If any patch in the set fails mid-way, Apply restores every file it
already touched from backup before returning the error — a partially
applied PatchSet is never left on disk. Rollback performs the same
restoration on demand, after a successful Apply, in reverse patch order.
*/
package patch
