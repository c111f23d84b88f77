// Package promote implements the staging to destination promoter (C8).
//
// A Promoter watches source_dir for completed lineage trees — a top-level
// directory whose PEM files have stopped changing, using the same
// fsnotify-plus-debounce heuristic an editor-triggered reindex would use to
// decide a working tree has settled — and moves each one into
// destination/<lineage>/ under an exclusive per-lineage lock. When
// file_permissions is configured it applies directory_mode/mode and
// resolves owner/group to a uid/gid pair afterward.
//
// Promotion is atomic per file: each source file is renamed directly into
// place, so a reader of destination never observes a half-written lineage.
// Cross-device source/destination pairs fall back to copy-then-remove,
// still never exposing a partial file because the copy lands in a temp
// name first.
package promote
