package attendance

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Status is the attendance code of one session.
type Status int

const (
	Absent    Status = 0
	Present   Status = 1
	Alternate Status = 2
)

// Valid reports whether s is one of the known codes.
func (s Status) Valid() bool {
	return s == Absent || s == Present || s == Alternate
}

// SessionVector holds one member's statuses for the sessions of a day.
// Stored arrays shorter than SessionsPerDay decode with the missing
// sessions absent.
type SessionVector [SessionsPerDay]Status

// UnmarshalJSON accepts an array of codes or an object keyed by session
// index, which is how sparse arrays come back from some stores. Unknown
// codes, indices past SessionsPerDay and any other shape decode as absent.
func (v *SessionVector) UnmarshalJSON(data []byte) error {
	*v = SessionVector{}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		for i, raw := range list {
			if i >= SessionsPerDay {
				break
			}
			v[i] = decodeStatus(raw)
		}
		return nil
	}
	var sparse map[string]json.RawMessage
	if err := json.Unmarshal(data, &sparse); err == nil {
		for k, raw := range sparse {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= SessionsPerDay {
				continue
			}
			v[i] = decodeStatus(raw)
		}
	}
	return nil
}

func decodeStatus(raw json.RawMessage) Status {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return Absent
	}
	s := Status(f)
	if float64(s) != f || !s.Valid() {
		return Absent
	}
	return s
}

// IsZero reports whether every session is absent.
func (v SessionVector) IsZero() bool {
	return v == SessionVector{}
}

// PresentIndices lists the sessions marked Present, in index order.
func (v SessionVector) PresentIndices() []int {
	var out []int
	for i, s := range v {
		if s == Present {
			out = append(out, i)
		}
	}
	return out
}

// DailyAttendance maps member id to session vector for one day.
type DailyAttendance map[string]SessionVector

// AttendanceRecord maps date key to the attendance of that day. Missing
// dates and members mean all sessions absent.
type AttendanceRecord map[string]DailyAttendance

// UnmarshalJSON decodes the record day by day. A day that is not an object
// is dropped; the other days are kept.
func (r *AttendanceRecord) UnmarshalJSON(data []byte) error {
	var days map[string]json.RawMessage
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	out := make(AttendanceRecord, len(days))
	for date, raw := range days {
		var day DailyAttendance
		if err := json.Unmarshal(raw, &day); err != nil || len(day) == 0 {
			continue
		}
		out[date] = day
	}
	*r = out
	return nil
}

// Vector returns the statuses of memberID on date. The result is a copy.
func (r AttendanceRecord) Vector(date, memberID string) SessionVector {
	return r[date][memberID]
}

// Clone returns a deep copy of r.
func (r AttendanceRecord) Clone() AttendanceRecord {
	out := make(AttendanceRecord, len(r))
	for date, day := range r {
		out[date] = maps.Clone(day)
	}
	return out
}

// WithStatus returns a copy of r with one session status changed. Vectors
// that become all absent are dropped, and so are days left empty.
func (r AttendanceRecord) WithStatus(date, memberID string, index int, status Status) (AttendanceRecord, error) {
	if index < 0 || index >= SessionsPerDay {
		return nil, fmt.Errorf("session index %d out of range", index)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %d", status)
	}
	out := r.Clone()
	v := out.Vector(date, memberID)
	v[index] = status

	day := out[date]
	if v.IsZero() {
		delete(day, memberID)
		if len(day) == 0 {
			delete(out, date)
		}
		return out, nil
	}
	if day == nil {
		day = DailyAttendance{}
		out[date] = day
	}
	day[memberID] = v
	return out, nil
}

// ClearMonth returns a copy of record without any date in the given month.
// The input is not modified.
func ClearMonth(record AttendanceRecord, year int, month time.Month) AttendanceRecord {
	prefix := MonthPrefix(year, int(month))
	out := make(AttendanceRecord, len(record))
	for date, day := range record {
		if strings.HasPrefix(date, prefix) {
			continue
		}
		out[date] = maps.Clone(day)
	}
	return out
}

// DailyMetadata describes the sessions of one day. Index i of each array
// corresponds to index i of every session vector for that day.
type DailyMetadata struct {
	SessionNames []string `json:"sessionNames,omitempty"`
	SessionHosts []string `json:"sessionHosts,omitempty"`
	SessionCount *int     `json:"sessionCount,omitempty"`
}

// SessionName returns the configured name of session i, or "".
func (m DailyMetadata) SessionName(i int) string {
	return at(m.SessionNames, i)
}

// SessionHost returns the configured host of session i, or "".
func (m DailyMetadata) SessionHost(i int) string {
	return at(m.SessionHosts, i)
}

func at(list []string, i int) string {
	if i < 0 || i >= len(list) {
		return ""
	}
	return list[i]
}

// MetadataRecord maps date key to the metadata of that day.
type MetadataRecord map[string]DailyMetadata

// UnmarshalJSON decodes the record day by day, dropping days that do not
// have the metadata shape.
func (r *MetadataRecord) UnmarshalJSON(data []byte) error {
	var days map[string]json.RawMessage
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	out := make(MetadataRecord, len(days))
	for date, raw := range days {
		var meta DailyMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		out[date] = meta
	}
	*r = out
	return nil
}

// Clone returns a deep copy of r.
func (r MetadataRecord) Clone() MetadataRecord {
	out := make(MetadataRecord, len(r))
	for date, meta := range r {
		c := DailyMetadata{
			SessionNames: append([]string(nil), meta.SessionNames...),
			SessionHosts: append([]string(nil), meta.SessionHosts...),
		}
		if meta.SessionCount != nil {
			n := *meta.SessionCount
			c.SessionCount = &n
		}
		out[date] = c
	}
	return out
}

// padded grows list to SessionsPerDay entries.
func padded(list []string) []string {
	out := append([]string(nil), list...)
	for len(out) < SessionsPerDay {
		out = append(out, "")
	}
	return out
}
