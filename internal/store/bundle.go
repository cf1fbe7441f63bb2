package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hordegraphy/internal/attendance"
	"hordegraphy/internal/metrics"
	"hordegraphy/internal/remote"
)

// ErrFormat is returned by Import when the payload is not a JSON object.
var ErrFormat = errors.New("invalid backup format")

// Bundle is the export document. Field names match the collection keys.
type Bundle struct {
	Members          []attendance.Member         `json:"members"`
	BannedMembers    []attendance.BannedMember   `json:"bannedMembers"`
	Attendance       attendance.AttendanceRecord `json:"attendance"`
	OnlineAttendance attendance.AttendanceRecord `json:"onlineAttendance"`
	Metadata         attendance.MetadataRecord   `json:"metadata"`
	OnlineMetadata   attendance.MetadataRecord   `json:"onlineMetadata"`
	GlobalSessions   []string                    `json:"globalSessions"`
	ClubLink         string                      `json:"clubLink"`
	Suggestions      []attendance.Suggestion     `json:"suggestions"`
	ExportDate       string                      `json:"exportDate"`
}

// BackupFilename is the conventional file name for an export taken at now.
func BackupFilename(now time.Time) string {
	return fmt.Sprintf("club_attendance_backup_%s.json", now.Format(time.DateOnly))
}

// Export serializes every collection into one indented document.
func (s *Store) Export(now time.Time) ([]byte, error) {
	b := Bundle{
		Members:          s.Members(),
		BannedMembers:    s.BannedMembers(),
		Attendance:       s.Attendance(attendance.Offline),
		OnlineAttendance: s.Attendance(attendance.Online),
		Metadata:         s.Metadata(attendance.Offline),
		OnlineMetadata:   s.Metadata(attendance.Online),
		GlobalSessions:   s.GlobalSessionNames(),
		ClubLink:         s.ClubLink(),
		Suggestions:      s.Suggestions(),
		ExportDate:       now.UTC().Format(time.RFC3339),
	}
	return json.MarshalIndent(b, "", "  ")
}

// decoders check that a bundle field has the collection's shape and return
// its canonical encoding.
var decoders = map[string]func(json.RawMessage) ([]byte, error){
	KeyMembers:          canonical[[]attendance.Member],
	KeyBannedMembers:    canonical[[]attendance.BannedMember],
	KeyAttendance:       canonical[attendance.AttendanceRecord],
	KeyOnlineAttendance: canonical[attendance.AttendanceRecord],
	KeyMetadata:         canonical[attendance.MetadataRecord],
	KeyOnlineMetadata:   canonical[attendance.MetadataRecord],
	KeyGlobalSessions:   canonical[[]string],
	KeyClubLink:         canonical[string],
	KeySuggestions:      canonical[[]attendance.Suggestion],
}

func canonical[T any](raw json.RawMessage) ([]byte, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Import loads a bundle. A payload that is not a JSON object is rejected
// with ErrFormat and nothing changes. Otherwise every well-formed collection
// present in the payload replaces the cached one; absent or malformed
// collections keep their current value. The merged document is pushed to the
// remote root in one call.
func (s *Store) Import(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		metrics.Imports.WithLabelValues(metrics.Failed).Inc()
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if doc == nil {
		metrics.Imports.WithLabelValues(metrics.Failed).Inc()
		return fmt.Errorf("%w: document is null", ErrFormat)
	}

	updates := make(map[string][]byte)
	for _, key := range Keys {
		raw, ok := doc[key]
		if !ok || isNull(raw) {
			continue
		}
		value, err := decoders[key](raw)
		if err != nil {
			s.log.WithError(err).WithField("key", key).Warn("skipping malformed backup field")
			continue
		}
		updates[key] = value
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range updates {
		s.writeLocked(k, v)
	}
	root := make(map[string]json.RawMessage, len(s.cache))
	keys := make([]string, 0, len(s.cache))
	for k, v := range s.cache {
		root[k] = v
		keys = append(keys, k)
	}
	payload, err := json.Marshal(root)
	if err != nil {
		return err
	}
	s.enqueueLocked(remote.Root, payload, keys...)
	metrics.Imports.WithLabelValues(metrics.OK).Inc()
	return nil
}
