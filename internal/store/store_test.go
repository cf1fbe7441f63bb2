package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"hordegraphy/internal/attendance"
	"hordegraphy/internal/remote"
	"hordegraphy/pkg/logger"
)

func openStore(t *testing.T, ch remote.Channel, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	s := New(ch, opts...)
	if err := s.Open(context.Background(), nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func sampleMembers() []attendance.Member {
	return []attendance.Member{
		{ID: "m1", Name: "김철수", JoinedAt: "2024-01-02"},
		{ID: "m2", Name: "이영희", JoinedAt: "2024-02-03", IsStaff: true},
	}
}

func TestDefaultsWhenEmpty(t *testing.T) {
	s := openStore(t, remote.NewInMemory())

	if m := s.Members(); m == nil || len(m) != 0 {
		t.Fatalf("expected empty members, got %#v", m)
	}
	if got := s.GlobalSessionNames(); !reflect.DeepEqual(got, attendance.DefaultSessionNames) {
		t.Fatalf("expected default session names, got %v", got)
	}
	if v := s.Attendance(attendance.Online).Vector("2024-05-01", "m1"); !v.IsZero() {
		t.Fatalf("expected absent vector, got %v", v)
	}
	if link := s.ClubLink(); link != "" {
		t.Fatalf("expected empty link, got %q", link)
	}
}

func TestSaveIsVisibleBeforePush(t *testing.T) {
	ch := remote.NewInMemory()
	s := openStore(t, ch)

	s.SaveMembers(sampleMembers())
	if got := s.Members(); !reflect.DeepEqual(got, sampleMembers()) {
		t.Fatalf("local read after save: %v", got)
	}

	flush(t, s)
	var remoteMembers []attendance.Member
	if err := json.Unmarshal(ch.Value(KeyMembers), &remoteMembers); err != nil {
		t.Fatalf("decode remote: %v", err)
	}
	if !reflect.DeepEqual(remoteMembers, sampleMembers()) {
		t.Fatalf("remote members %v", remoteMembers)
	}
}

func TestSaveEmptyListKeepsRemoteKey(t *testing.T) {
	ch := remote.NewInMemory()
	s := openStore(t, ch)

	s.SaveSuggestions(nil)
	flush(t, s)
	if got := string(ch.Value(KeySuggestions)); got != "[]" {
		t.Fatalf("expected [], got %s", got)
	}
}

func TestSaveTwiceIsIdempotent(t *testing.T) {
	ch := remote.NewInMemory()
	s := openStore(t, ch)

	rec, _ := attendance.AttendanceRecord{}.WithStatus("2024-05-01", "m1", 2, attendance.Present)
	s.SaveAttendance(attendance.Offline, rec)
	flush(t, s)
	once := string(ch.Value(remote.Root))
	local := s.Snapshot()

	s.SaveAttendance(attendance.Offline, rec)
	flush(t, s)
	if twice := string(ch.Value(remote.Root)); twice != once {
		t.Fatalf("remote changed: %s vs %s", once, twice)
	}
	if !reflect.DeepEqual(local, s.Snapshot()) {
		t.Fatal("local cache changed")
	}
}

type snapshots struct {
	mu   sync.Mutex
	seen []Snapshot
}

func (r *snapshots) add(s Snapshot) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
}

func (r *snapshots) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return nil
	}
	return r.seen[len(r.seen)-1]
}

func TestRemoteChangeOverwritesOtherStore(t *testing.T) {
	ch := remote.NewInMemory()
	writer := openStore(t, ch)

	var rec snapshots
	reader := New(ch, WithLogger(logger.Discard()))
	if err := reader.Open(context.Background(), rec.add); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reader.Close()

	reader.SaveClubLink("https://old")
	flush(t, reader)

	writer.SaveClubLink("https://new")
	flush(t, writer)

	if got := reader.ClubLink(); got != "https://new" {
		t.Fatalf("reader not overwritten: %q", got)
	}
	last := rec.last()
	if last == nil || !last.Has(KeyClubLink) {
		t.Fatalf("callback did not receive snapshot: %v", last)
	}
}

func TestPushFailureIsSilent(t *testing.T) {
	ch := remote.NewInMemory()
	s := openStore(t, ch)

	ch.Fail(errors.New("offline"))
	s.SaveClubLink("https://club")
	flush(t, s)

	if got := s.ClubLink(); got != "https://club" {
		t.Fatalf("local write lost: %q", got)
	}
	if got := string(ch.Value(KeyClubLink)); got != "null" {
		t.Fatalf("push should have failed, remote has %s", got)
	}
}

func populate(s *Store) {
	s.SaveMembers(sampleMembers())
	s.SaveBannedMembers([]attendance.BannedMember{{ID: "b1", Name: "박민수", Reason: "무단 불참", BannedAt: "2024-03-01"}})
	rec, _ := attendance.AttendanceRecord{}.WithStatus("2024-05-01", "m1", 0, attendance.Present)
	rec, _ = rec.WithStatus("2024-05-01", "m2", 3, attendance.Alternate)
	s.SaveAttendance(attendance.Offline, rec)
	online, _ := attendance.AttendanceRecord{}.WithStatus("2024-05-02", "m2", 1, attendance.Present)
	s.SaveAttendance(attendance.Online, online)
	count := 2
	s.SaveMetadata(attendance.Offline, attendance.MetadataRecord{
		"2024-05-01": {SessionNames: []string{"보드게임", "", "", ""}, SessionHosts: []string{"김철수", "", "", ""}, SessionCount: &count},
	})
	s.SaveGlobalSessionNames([]string{"A", "B", "C", "D"})
	s.SaveClubLink("https://club")
	s.SaveSuggestions([]attendance.Suggestion{{ID: "s1", Content: "더 자주 모여요", CreatedAt: "2024-05-03T00:00:00Z"}})
}

func TestExportImportRoundTrip(t *testing.T) {
	src := openStore(t, remote.NewInMemory())
	populate(src)

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	data, err := src.Export(now)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dstRemote := remote.NewInMemory()
	dst := openStore(t, dstRemote)
	if err := dst.Import(data); err != nil {
		t.Fatalf("import: %v", err)
	}

	again, err := dst.Export(now)
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	if string(again) != string(data) {
		t.Fatalf("round trip differs:\n%s\n---\n%s", data, again)
	}

	flush(t, dst)
	if got := string(dstRemote.Value(KeyClubLink)); got != `"https://club"` {
		t.Fatalf("import not pushed to remote: %s", got)
	}
	if got := string(dstRemote.Value("exportDate")); got != "null" {
		t.Fatalf("exportDate should not be stored, got %s", got)
	}
}

func TestExportCarriesDate(t *testing.T) {
	s := openStore(t, remote.NewInMemory())
	data, err := s.Export(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ExportDate != "2024-05-10T12:00:00Z" {
		t.Fatalf("unexpected export date %q", b.ExportDate)
	}
	if got := BackupFilename(time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)); got != "club_attendance_backup_2024-05-10.json" {
		t.Fatalf("unexpected filename %q", got)
	}
}

func TestImportRejectsUnparseable(t *testing.T) {
	ch := remote.NewInMemory()
	s := openStore(t, ch)
	s.SaveClubLink("https://keep")
	flush(t, s)
	before := s.Snapshot()

	for _, payload := range []string{"{", "null", "[1,2]", `"text"`} {
		err := s.Import([]byte(payload))
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("%s: expected ErrFormat, got %v", payload, err)
		}
	}
	flush(t, s)
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("failed import mutated the cache")
	}
	if got := string(ch.Value(KeyClubLink)); got != `"https://keep"` {
		t.Fatalf("failed import reached remote: %s", got)
	}
}

func TestImportPartialDocument(t *testing.T) {
	s := openStore(t, remote.NewInMemory())
	s.SaveMembers(sampleMembers())
	s.SaveClubLink("https://old")

	err := s.Import([]byte(`{"clubLink":"https://new","members":"not a list","unknown":1}`))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := s.ClubLink(); got != "https://new" {
		t.Fatalf("club link not imported: %q", got)
	}
	if got := s.Members(); !reflect.DeepEqual(got, sampleMembers()) {
		t.Fatalf("malformed field should be skipped, got %v", got)
	}
}

type mapBacking struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *mapBacking) Load(context.Context) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]byte, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out, nil
}

func (b *mapBacking) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func TestBackingSurvivesRestart(t *testing.T) {
	backing := &mapBacking{data: map[string][]byte{}}
	ch := remote.NewInMemory()
	ch.Fail(errors.New("offline"))

	first := openStore(t, ch, WithBacking(backing))
	first.SaveMembers(sampleMembers())
	_ = first.Close()

	second := openStore(t, ch, WithBacking(backing))
	if got := second.Members(); !reflect.DeepEqual(got, sampleMembers()) {
		t.Fatalf("members not restored from backing: %v", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openStore(t, remote.NewInMemory())
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
}

// gatedChannel blocks every push until the test releases it.
type gatedChannel struct {
	*remote.InMemory
	entered chan string
	release chan struct{}
}

func (g *gatedChannel) Push(ctx context.Context, path string, value json.RawMessage) error {
	g.entered <- path
	<-g.release
	return g.InMemory.Push(ctx, path, value)
}

func TestStaleEchoDoesNotRevertNewerWrite(t *testing.T) {
	mem := remote.NewInMemory()
	ch := &gatedChannel{InMemory: mem, entered: make(chan string), release: make(chan struct{})}
	s := openStore(t, ch)

	s.SaveClubLink("https://first")
	<-ch.entered
	s.SaveClubLink("https://second")

	ch.release <- struct{}{}
	<-ch.entered
	if got := s.ClubLink(); got != "https://second" {
		t.Fatalf("echo of the first push reverted the cache to %q", got)
	}

	ch.release <- struct{}{}
	flush(t, s)
	if got := string(mem.Value(KeyClubLink)); got != `"https://second"` {
		t.Fatalf("remote has %s", got)
	}
}

func TestSnapshotCallbackSeesCachedValues(t *testing.T) {
	mem := remote.NewInMemory()
	ch := &gatedChannel{InMemory: mem, entered: make(chan string), release: make(chan struct{})}
	var rec snapshots
	s := New(ch, WithLogger(logger.Discard()))
	if err := s.Open(context.Background(), rec.add); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.SaveClubLink("https://local")
	<-ch.entered

	other := json.RawMessage(`{"clubLink":"https://remote","members":[{"id":"m9","name":"최지우","joinedAt":"2024-01-01"}]}`)
	if err := mem.Push(context.Background(), remote.Root, other); err != nil {
		t.Fatalf("seed push: %v", err)
	}
	last := rec.last()
	if last == nil || !last.Has(KeyMembers) {
		t.Fatalf("callback missed the applied members: %v", last)
	}
	if got := string(last[KeyClubLink]); got != `"https://local"` {
		t.Fatalf("callback saw club link %s, cache serves the local one", got)
	}
	if got := s.ClubLink(); got != "https://local" {
		t.Fatalf("cache took the remote link %q", got)
	}

	ch.release <- struct{}{}
	flush(t, s)
}

func TestOnChangeMayFlushDuringOpen(t *testing.T) {
	ch := remote.NewInMemory()
	if err := ch.Push(context.Background(), KeyClubLink, json.RawMessage(`"https://club"`)); err != nil {
		t.Fatalf("seed push: %v", err)
	}

	s := New(ch, WithLogger(logger.Discard()))
	flushed := make(chan error, 1)
	opened := make(chan error, 1)
	go func() {
		opened <- s.Open(context.Background(), func(Snapshot) {
			select {
			case flushed <- s.Flush(context.Background()):
			default:
			}
		})
	}()

	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("open: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("open did not return while the initial callback flushed")
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := <-flushed; err != nil {
		t.Fatalf("flush from callback: %v", err)
	}
}

func TestMalformedVectorDoesNotWipeRemoteAttendance(t *testing.T) {
	ch := remote.NewInMemory()
	seed := `{"attendance":{
		"2024-05-01":{"A":[1,0,0,0],"B":[1,1,0,0]},
		"2024-05-02":{"C":{"2":1},"E":"broken"}
	}}`
	if err := ch.Push(context.Background(), remote.Root, json.RawMessage(seed)); err != nil {
		t.Fatalf("seed push: %v", err)
	}
	s := openStore(t, ch)
	svc := attendance.NewService(s)

	if err := svc.SetSessionStatus(attendance.Offline, "2024-05-03", "D", 0, attendance.Present); err != nil {
		t.Fatalf("set status: %v", err)
	}
	flush(t, s)

	var got attendance.AttendanceRecord
	if err := json.Unmarshal(ch.Value(KeyAttendance), &got); err != nil {
		t.Fatalf("decode remote: %v", err)
	}
	want := map[[2]string]attendance.SessionVector{
		{"2024-05-01", "A"}: {attendance.Present},
		{"2024-05-01", "B"}: {attendance.Present, attendance.Present},
		{"2024-05-02", "C"}: {2: attendance.Present},
		{"2024-05-03", "D"}: {attendance.Present},
	}
	for k, v := range want {
		if g := got.Vector(k[0], k[1]); g != v {
			t.Fatalf("%s/%s: remote has %v, want %v", k[0], k[1], g, v)
		}
	}
}

func TestSaveRefusesToOverwriteUnreadableCollection(t *testing.T) {
	ch := remote.NewInMemory()
	broken := `[{"id":1,"name":"김철수"}]`
	if err := ch.Push(context.Background(), KeyMembers, json.RawMessage(broken)); err != nil {
		t.Fatalf("seed push: %v", err)
	}
	s := openStore(t, ch)
	svc := attendance.NewService(s)

	if _, err := svc.AddMember(attendance.NewMember{Name: "박영희"}); !errors.Is(err, attendance.ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
	flush(t, s)
	if got := string(ch.Value(KeyMembers)); got != broken {
		t.Fatalf("remote members replaced: %s", got)
	}

	if err := s.Import([]byte(`{"members":[]}`)); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := svc.AddMember(attendance.NewMember{Name: "박영희"}); err != nil {
		t.Fatalf("add after repair: %v", err)
	}
	if n := len(s.Members()); n != 1 {
		t.Fatalf("expected one member, got %d", n)
	}
}
