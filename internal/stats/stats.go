// Package stats derives the monthly view model from store contents. Nothing
// here is persisted; every result is recomputed from its inputs.
package stats

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"hordegraphy/internal/attendance"
)

// Sources are the two attendance pipelines with their metadata.
type Sources struct {
	Offline     attendance.AttendanceRecord
	Online      attendance.AttendanceRecord
	OfflineMeta attendance.MetadataRecord
	OnlineMeta  attendance.MetadataRecord
}

func (s Sources) record(v attendance.Variant) attendance.AttendanceRecord {
	if v == attendance.Online {
		return s.Online
	}
	return s.Offline
}

func (s Sources) metadata(v attendance.Variant) attendance.MetadataRecord {
	if v == attendance.Online {
		return s.OnlineMeta
	}
	return s.OfflineMeta
}

// Day lists the session indices a member was present at on one day.
type Day struct {
	Offline []int `json:"offline"`
	Online  []int `json:"online"`
}

// Row is one member's rollup for a month. Days[i] is day i+1.
type Row struct {
	Member       attendance.Member `json:"member"`
	Days         []Day             `json:"days"`
	TotalOffline int               `json:"totalOffline"`
	TotalOnline  int               `json:"totalOnline"`
}

// Total is the combined count across both variants.
func (r Row) Total() int { return r.TotalOffline + r.TotalOnline }

// Attended reports whether the row has the member present at ref.
func (r Row) Attended(ref SessionRef, year int, month time.Month) bool {
	d, err := time.Parse(time.DateOnly, ref.Date)
	if err != nil || d.Year() != year || d.Month() != month {
		return false
	}
	day := r.Days[d.Day()-1]
	indices := day.Offline
	if ref.Variant == attendance.Online {
		indices = day.Online
	}
	return slices.Contains(indices, ref.Index)
}

// DaysIn returns the number of days of a month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Rollup computes per-member daily present indices and monthly totals. Rows
// come back in canonical order.
func Rollup(members []attendance.Member, src Sources, year int, month time.Month) []Row {
	n := DaysIn(year, month)
	rows := make([]Row, 0, len(members))
	for _, m := range CanonicalOrder(members) {
		row := Row{Member: m, Days: make([]Day, n)}
		for i := range n {
			date := attendance.DateKey(year, int(month), i+1)
			off := src.Offline.Vector(date, m.ID).PresentIndices()
			on := src.Online.Vector(date, m.ID).PresentIndices()
			row.Days[i] = Day{Offline: off, Online: on}
			row.TotalOffline += len(off)
			row.TotalOnline += len(on)
		}
		rows = append(rows, row)
	}
	return rows
}

func rank(m attendance.Member) int {
	switch {
	case m.IsLeader:
		return 0
	case m.IsStaff:
		return 1
	}
	return 2
}

// CanonicalOrder returns members sorted leaders first, then staff, then by
// name in Korean collation. Equal names fall back to id.
func CanonicalOrder(members []attendance.Member) []attendance.Member {
	col := collate.New(language.Korean)
	out := slices.Clone(members)
	slices.SortStableFunc(out, func(a, b attendance.Member) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// FellowAttendees returns, in member order, the names of everyone other than
// memberID present at session index on date.
func FellowAttendees(members []attendance.Member, record attendance.AttendanceRecord, date string, index int, memberID string) []string {
	names := []string{}
	if index < 0 || index >= attendance.SessionsPerDay {
		return names
	}
	for _, m := range members {
		if m.ID == memberID {
			continue
		}
		if record.Vector(date, m.ID)[index] == attendance.Present {
			names = append(names, m.Name)
		}
	}
	return names
}

// NoHost is shown when a session has no recorded host.
const NoHost = "미정"

// Session describes one session slot for display.
type Session struct {
	SessionRef
	Name    string   `json:"name"`
	Host    string   `json:"host"`
	Fellows []string `json:"fellows"`
}

// DefaultSessionName is the label of an unnamed session.
func DefaultSessionName(v attendance.Variant, index int) string {
	if v == attendance.Online {
		return fmt.Sprintf("온라인 %d", index+1)
	}
	return fmt.Sprintf("모임 %d", index+1)
}

// SessionDetail resolves the name, host and fellow attendees of ref as seen
// by memberID.
func SessionDetail(members []attendance.Member, src Sources, ref SessionRef, memberID string) Session {
	day := src.metadata(ref.Variant)[ref.Date]
	s := Session{
		SessionRef: ref,
		Name:       day.SessionName(ref.Index),
		Host:       day.SessionHost(ref.Index),
		Fellows:    FellowAttendees(members, src.record(ref.Variant), ref.Date, ref.Index, memberID),
	}
	if s.Name == "" {
		s.Name = DefaultSessionName(ref.Variant, ref.Index)
	}
	if s.Host == "" {
		s.Host = NoHost
	}
	return s
}

// MemberTotal is a member's attendance count, the input of a report.
type MemberTotal struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary counts every non-absent session per member across records. An
// empty monthPrefix counts all dates.
func Summary(members []attendance.Member, monthPrefix string, records ...attendance.AttendanceRecord) []MemberTotal {
	out := make([]MemberTotal, 0, len(members))
	for _, m := range members {
		t := MemberTotal{ID: m.ID, Name: m.Name}
		for _, rec := range records {
			for date, day := range rec {
				if !strings.HasPrefix(date, monthPrefix) {
					continue
				}
				for _, s := range day[m.ID] {
					if s != attendance.Absent {
						t.Count++
					}
				}
			}
		}
		out = append(out, t)
	}
	return out
}
