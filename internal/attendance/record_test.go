package attendance

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestVectorDefaultsToAbsent(t *testing.T) {
	rec := AttendanceRecord{"2024-05-01": {"A": {1, 0, 0, 0}}}

	if got := rec.Vector("2024-05-01", "B"); !got.IsZero() {
		t.Fatalf("expected absent vector for missing member, got %v", got)
	}
	if got := rec.Vector("2024-06-01", "A"); !got.IsZero() {
		t.Fatalf("expected absent vector for missing date, got %v", got)
	}
	var empty AttendanceRecord
	if got := empty.Vector("2024-05-01", "A"); !got.IsZero() {
		t.Fatalf("expected absent vector from nil record, got %v", got)
	}
}

func TestVectorIsOwnedCopy(t *testing.T) {
	rec := AttendanceRecord{"2024-05-01": {"A": {1, 0, 0, 0}}}

	v := rec.Vector("2024-05-01", "A")
	v[0] = Absent
	if rec["2024-05-01"]["A"][0] != Present {
		t.Fatal("mutating a returned vector changed the record")
	}

	d := rec.Vector("2024-05-01", "missing")
	d[1] = Present
	if again := rec.Vector("2024-05-01", "missing"); !again.IsZero() {
		t.Fatal("default vector is shared between calls")
	}
}

func TestSessionVectorDecodesShortArrays(t *testing.T) {
	var rec AttendanceRecord
	if err := json.Unmarshal([]byte(`{"2024-05-01":{"A":[1,2]}}`), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := SessionVector{Present, Alternate, Absent, Absent}
	if got := rec.Vector("2024-05-01", "A"); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRecordDecodingSkipsMalformedEntries(t *testing.T) {
	raw := `{
		"2024-05-01": {"A": [1, 0, 0, 0], "B": [1, 1, 7, "x", 2, 1]},
		"2024-05-02": {"C": {"2": 1, "9": 1, "k": 2}, "D": "broken"},
		"2024-05-03": [1, 2, 3],
		"2024-05-04": {"A": [1.5, 2.0]}
	}`
	var rec AttendanceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	cases := []struct {
		date, member string
		want         SessionVector
	}{
		{"2024-05-01", "A", SessionVector{Present, Absent, Absent, Absent}},
		{"2024-05-01", "B", SessionVector{Present, Present, Absent, Absent}},
		{"2024-05-02", "C", SessionVector{Absent, Absent, Present, Absent}},
		{"2024-05-02", "D", SessionVector{}},
		{"2024-05-04", "A", SessionVector{Absent, Alternate, Absent, Absent}},
	}
	for _, tc := range cases {
		if got := rec.Vector(tc.date, tc.member); got != tc.want {
			t.Fatalf("%s/%s: got %v, want %v", tc.date, tc.member, got, tc.want)
		}
	}
	if _, ok := rec["2024-05-03"]; ok {
		t.Fatal("a day that is not an object should be dropped")
	}

	if err := json.Unmarshal([]byte(`[1]`), &rec); err == nil {
		t.Fatal("expected an error for a record that is not an object")
	}
}

func TestMetadataDecodingSkipsMalformedDays(t *testing.T) {
	raw := `{
		"2024-05-01": {"sessionNames": ["보드게임"], "sessionCount": 2},
		"2024-05-02": {"sessionCount": "two"},
		"2024-05-03": 5
	}`
	var meta MetadataRecord
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(meta) != 1 {
		t.Fatalf("expected one surviving day, got %v", meta)
	}
	day := meta["2024-05-01"]
	if day.SessionName(0) != "보드게임" || day.SessionCount == nil || *day.SessionCount != 2 {
		t.Fatalf("unexpected day: %+v", day)
	}
}

func TestWithStatusKeepsRecordSparse(t *testing.T) {
	rec := AttendanceRecord{}

	rec, err := rec.WithStatus("2024-05-01", "A", 2, Present)
	if err != nil {
		t.Fatalf("set present: %v", err)
	}
	if got := rec.Vector("2024-05-01", "A"); got != (SessionVector{0, 0, 1, 0}) {
		t.Fatalf("unexpected vector %v", got)
	}

	rec, err = rec.WithStatus("2024-05-01", "A", 2, Absent)
	if err != nil {
		t.Fatalf("set absent: %v", err)
	}
	if len(rec) != 0 {
		t.Fatalf("expected empty record after clearing, got %v", rec)
	}
}

func TestWithStatusDoesNotMutateInput(t *testing.T) {
	rec := AttendanceRecord{"2024-05-01": {"A": {1, 0, 0, 0}}}

	if _, err := rec.WithStatus("2024-05-01", "A", 1, Present); err != nil {
		t.Fatalf("with status: %v", err)
	}
	if got := rec.Vector("2024-05-01", "A"); got != (SessionVector{1, 0, 0, 0}) {
		t.Fatalf("input mutated: %v", got)
	}
}

func TestWithStatusRejectsBadInput(t *testing.T) {
	rec := AttendanceRecord{}
	if _, err := rec.WithStatus("2024-05-01", "A", 4, Present); err == nil {
		t.Fatal("expected index error")
	}
	if _, err := rec.WithStatus("2024-05-01", "A", 0, Status(3)); err == nil {
		t.Fatal("expected status error")
	}
}

func TestClearMonth(t *testing.T) {
	rec := AttendanceRecord{
		"2024-04-30": {"A": {1, 0, 0, 0}},
		"2024-05-01": {"A": {1, 0, 0, 0}},
		"2024-05-31": {"B": {0, 1, 0, 0}},
		"2023-05-10": {"B": {0, 1, 0, 0}},
		"2024-06-01": {"A": {0, 0, 1, 0}},
	}
	before := rec.Clone()

	got := ClearMonth(rec, 2024, time.May)

	want := []string{"2023-05-10", "2024-04-30", "2024-06-01"}
	if len(got) != len(want) {
		t.Fatalf("expected %d dates, got %v", len(want), got)
	}
	for _, d := range want {
		if _, ok := got[d]; !ok {
			t.Fatalf("expected %s to survive", d)
		}
	}
	if !reflect.DeepEqual(rec, before) {
		t.Fatal("input record was mutated")
	}
}

func TestMetadataAccessorsTolerateShortArrays(t *testing.T) {
	meta := DailyMetadata{SessionNames: []string{"보드게임"}}
	if got := meta.SessionName(0); got != "보드게임" {
		t.Fatalf("got %q", got)
	}
	if got := meta.SessionName(3); got != "" {
		t.Fatalf("expected empty name, got %q", got)
	}
	if got := meta.SessionHost(1); got != "" {
		t.Fatalf("expected empty host, got %q", got)
	}
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]Variant{"offline": Offline, "off": Offline, "ONLINE": Online, "on": Online} {
		got, err := ParseVariant(in)
		if err != nil || got != want {
			t.Fatalf("ParseVariant(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseVariant("hybrid"); err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestDisplayAuthor(t *testing.T) {
	if got := (Suggestion{Author: "  "}).DisplayAuthor(); got != AnonymousAuthor {
		t.Fatalf("got %q", got)
	}
	if got := (Suggestion{Author: "민지"}).DisplayAuthor(); got != "민지" {
		t.Fatalf("got %q", got)
	}
}
