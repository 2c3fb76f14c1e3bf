package models

import "time"

// SyncState tracks the remote mirror of an occurrence (a calendar event
// hosted on the remote side). LocalVersion is bumped on every
// sync-relevant local edit; RemoteVersion is the last version known to
// have been pushed. Invariant: RemoteVersion <= LocalVersion.
type SyncState struct {
	OccurrenceID  int64      `json:"occurrence_id"`
	RemoteID      string     `json:"remote_id,omitempty"`
	LocalVersion  int64      `json:"local_version"`
	RemoteVersion int64      `json:"remote_version"`
	ContentHash   string     `json:"content_hash,omitempty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
}

// InSync reports whether no remote call is required for the given
// freshly computed content hash.
func (s *SyncState) InSync(hash string) bool {
	return s.RemoteID != "" && s.RemoteVersion == s.LocalVersion && s.ContentHash == hash
}
