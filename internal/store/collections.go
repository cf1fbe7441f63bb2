package store

import (
	"encoding/json"
	"fmt"
	"slices"

	"hordegraphy/internal/attendance"
)

// get decodes a cached collection into T. Missing or undecodable entries
// yield def.
func get[T any](s *Store, key string, def T) T {
	data, ok := s.raw(key)
	if !ok || isNull(data) {
		return def
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cached collection is malformed")
		return def
	}
	return v
}

// save writes a collection locally and queues its remote push. A cached
// value that no longer decodes is left in place and ErrUnreadable returned,
// since the caller built v from the default rather than from that value.
func (s *Store) save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache[key]; ok && !isNull(cur) {
		if _, err := decoders[key](cur); err != nil {
			s.log.WithError(err).WithField("key", key).Error("refusing to overwrite unreadable collection")
			return fmt.Errorf("%s: %w", key, attendance.ErrUnreadable)
		}
	}
	s.writeLocked(key, data)
	s.enqueueLocked(key, data, key)
	return nil
}

// Members returns the member list.
func (s *Store) Members() []attendance.Member {
	return get(s, KeyMembers, []attendance.Member{})
}

// SaveMembers replaces the member list.
func (s *Store) SaveMembers(m []attendance.Member) error {
	return s.save(KeyMembers, nonNil(m))
}

// BannedMembers returns the blacklist.
func (s *Store) BannedMembers() []attendance.BannedMember {
	return get(s, KeyBannedMembers, []attendance.BannedMember{})
}

// SaveBannedMembers replaces the blacklist.
func (s *Store) SaveBannedMembers(b []attendance.BannedMember) error {
	return s.save(KeyBannedMembers, nonNil(b))
}

// Attendance returns a variant's attendance record.
func (s *Store) Attendance(v attendance.Variant) attendance.AttendanceRecord {
	rec := get(s, AttendanceKey(v), attendance.AttendanceRecord{})
	if rec == nil {
		rec = attendance.AttendanceRecord{}
	}
	return rec
}

// SaveAttendance replaces a variant's attendance record.
func (s *Store) SaveAttendance(v attendance.Variant, rec attendance.AttendanceRecord) error {
	if rec == nil {
		rec = attendance.AttendanceRecord{}
	}
	return s.save(AttendanceKey(v), rec)
}

// Metadata returns a variant's per-day session metadata.
func (s *Store) Metadata(v attendance.Variant) attendance.MetadataRecord {
	meta := get(s, MetadataKey(v), attendance.MetadataRecord{})
	if meta == nil {
		meta = attendance.MetadataRecord{}
	}
	return meta
}

// SaveMetadata replaces a variant's metadata.
func (s *Store) SaveMetadata(v attendance.Variant, meta attendance.MetadataRecord) error {
	if meta == nil {
		meta = attendance.MetadataRecord{}
	}
	return s.save(MetadataKey(v), meta)
}

// GlobalSessionNames returns the default session-name template.
func (s *Store) GlobalSessionNames() []string {
	return get(s, KeyGlobalSessions, slices.Clone(attendance.DefaultSessionNames))
}

// SaveGlobalSessionNames replaces the session-name template.
func (s *Store) SaveGlobalSessionNames(names []string) error {
	return s.save(KeyGlobalSessions, nonNil(names))
}

// ClubLink returns the club link, or "" when unset.
func (s *Store) ClubLink() string {
	return get(s, KeyClubLink, "")
}

// SaveClubLink replaces the club link.
func (s *Store) SaveClubLink(link string) error {
	return s.save(KeyClubLink, link)
}

// Suggestions returns suggestions, newest first.
func (s *Store) Suggestions() []attendance.Suggestion {
	return get(s, KeySuggestions, []attendance.Suggestion{})
}

// SaveSuggestions replaces the suggestion list.
func (s *Store) SaveSuggestions(list []attendance.Suggestion) error {
	return s.save(KeySuggestions, nonNil(list))
}

// nonNil keeps an empty list encoded as [] so the push does not delete the
// remote key.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

var _ attendance.Repository = (*Store)(nil)
