// Package rkeys defines the Redis key and pub/sub channel schema used by
// the import orchestrator.
package rkeys

// FolderStatusChannel is the Redis pub/sub channel folder-status
// transitions (§6.3 FolderStatusUpdate) are published to.
const FolderStatusChannel = "orb:folder-status"

// JobStatusChannel is the Redis pub/sub channel job lifecycle events
// (§6.3 JobStatusUpdate) are published to.
const JobStatusChannel = "orb:job-status"

// FileSystemChannel is the Redis pub/sub channel inbox-tree changes
// (§6.3 FileSystemUpdate) are published to.
const FileSystemChannel = "orb:fs-update"

// CurrentSession returns the key caching the current (highest-revision)
// session id for a folder hash.
func CurrentSession(folderHash string) string { return "session:current:" + folderHash }

// InboxScanLock returns the key used to prevent two processes from running
// the inbox watcher's startup reconciliation scan concurrently.
func InboxScanLock() string { return "inbox:scan:lock" }
