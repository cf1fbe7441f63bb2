package attendance

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"hordegraphy/internal/fuzzy"
)

var (
	// ErrNotFound is returned when an id does not exist in its collection.
	ErrNotFound = errors.New("not found")
	// ErrBanned is returned when adding a member whose name is banned.
	ErrBanned = errors.New("name is banned")
	// ErrUnreadable is returned by a Save when the stored collection could
	// not be decoded. Saving over it would replace data this process never
	// read; an import is the way to repair it.
	ErrUnreadable = errors.New("stored collection is unreadable")
)

// Repository is the persisted collection surface the service mutates.
// Every Save call replaces the whole collection.
type Repository interface {
	Members() []Member
	SaveMembers([]Member) error
	BannedMembers() []BannedMember
	SaveBannedMembers([]BannedMember) error
	Attendance(Variant) AttendanceRecord
	SaveAttendance(Variant, AttendanceRecord) error
	Metadata(Variant) MetadataRecord
	SaveMetadata(Variant, MetadataRecord) error
	GlobalSessionNames() []string
	SaveGlobalSessionNames([]string) error
	ClubLink() string
	SaveClubLink(string) error
	Suggestions() []Suggestion
	SaveSuggestions([]Suggestion) error
}

// Service applies club mutations as read, copy, modify, save of a whole
// collection. Mutations are serialized so one process never loses its own
// writes.
type Service struct {
	mu       sync.Mutex
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		now:      func() time.Time { return time.Now() },
	}
}

// NewMember is the input for AddMember.
type NewMember struct {
	Name     string `validate:"required,max=64"`
	JoinedAt string `validate:"omitempty,datetime=2006-01-02"`
	IsStaff  bool
	IsLeader bool
}

// AddMember registers a member under a fresh id.
func (s *Service) AddMember(in NewMember) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Member{}, fmt.Errorf("invalid member: %w", err)
	}
	if s.isBanned(in.Name) {
		return Member{}, ErrBanned
	}
	if in.JoinedAt == "" {
		in.JoinedAt = s.now().Format(time.DateOnly)
	}
	m := Member{
		ID:       uuid.NewString(),
		Name:     in.Name,
		JoinedAt: in.JoinedAt,
		IsStaff:  in.IsStaff,
		IsLeader: in.IsLeader,
	}
	if err := s.repo.SaveMembers(append(s.repo.Members(), m)); err != nil {
		return Member{}, err
	}
	return m, nil
}

func (s *Service) isBanned(name string) bool {
	fold := cases.Fold()
	want := fold.String(name)
	for _, b := range s.repo.BannedMembers() {
		if fold.String(strings.TrimSpace(b.Name)) == want {
			return true
		}
	}
	return false
}

// RenameMember changes a display name and keeps the old one in history.
func (s *Service) RenameMember(id, name string) (Member, error) {
	name = strings.TrimSpace(name)
	if err := s.validate.Var(name, "required,max=64"); err != nil {
		return Member{}, fmt.Errorf("invalid name: %w", err)
	}
	return s.updateMember(id, func(m *Member) {
		if m.Name == name {
			return
		}
		m.PreviousNames = append(slices.Clone(m.PreviousNames), m.Name)
		m.Name = name
	})
}

// SetMemberRoles updates the staff and leader flags.
func (s *Service) SetMemberRoles(id string, staff, leader bool) (Member, error) {
	return s.updateMember(id, func(m *Member) {
		m.IsStaff = staff
		m.IsLeader = leader
	})
}

func (s *Service) updateMember(id string, fn func(*Member)) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.repo.Members()
	i := slices.IndexFunc(members, func(m Member) bool { return m.ID == id })
	if i < 0 {
		return Member{}, ErrNotFound
	}
	fn(&members[i])
	if err := s.repo.SaveMembers(members); err != nil {
		return Member{}, err
	}
	return members[i], nil
}

// DeleteMember removes a member. Their attendance entries are kept.
func (s *Service) DeleteMember(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.repo.Members()
	n := len(members)
	members = slices.DeleteFunc(members, func(m Member) bool { return m.ID == id })
	if len(members) == n {
		return ErrNotFound
	}
	return s.repo.SaveMembers(members)
}

// BanMember adds a name to the blacklist.
func (s *Service) BanMember(name, reason string) (BannedMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.TrimSpace(name)
	reason = strings.TrimSpace(reason)
	if name == "" || reason == "" {
		return BannedMember{}, errors.New("name and reason required")
	}
	b := BannedMember{
		ID:       uuid.NewString(),
		Name:     name,
		Reason:   reason,
		BannedAt: s.now().Format(time.DateOnly),
	}
	if err := s.repo.SaveBannedMembers(append(s.repo.BannedMembers(), b)); err != nil {
		return BannedMember{}, err
	}
	return b, nil
}

// UnbanMember removes a blacklist entry.
func (s *Service) UnbanMember(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	banned := s.repo.BannedMembers()
	n := len(banned)
	banned = slices.DeleteFunc(banned, func(b BannedMember) bool { return b.ID == id })
	if len(banned) == n {
		return ErrNotFound
	}
	return s.repo.SaveBannedMembers(banned)
}

// SearchBanned filters the blacklist by name or reason.
func (s *Service) SearchBanned(term string) []BannedMember {
	var out []BannedMember
	for _, b := range s.repo.BannedMembers() {
		if fuzzy.Matches(b.Name, term) || fuzzy.Matches(b.Reason, term) {
			out = append(out, b)
		}
	}
	return out
}

// AddSuggestion stores a suggestion. The author may be empty.
func (s *Service) AddSuggestion(content, author string) (Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content = strings.TrimSpace(content)
	if err := s.validate.Var(content, "required,max=2000"); err != nil {
		return Suggestion{}, fmt.Errorf("invalid suggestion: %w", err)
	}
	sg := Suggestion{
		ID:        uuid.NewString(),
		Content:   content,
		Author:    strings.TrimSpace(author),
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	// newest first
	if err := s.repo.SaveSuggestions(append([]Suggestion{sg}, s.repo.Suggestions()...)); err != nil {
		return Suggestion{}, err
	}
	return sg, nil
}

// DeleteSuggestion removes a suggestion.
func (s *Service) DeleteSuggestion(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.repo.Suggestions()
	n := len(list)
	list = slices.DeleteFunc(list, func(sg Suggestion) bool { return sg.ID == id })
	if len(list) == n {
		return ErrNotFound
	}
	return s.repo.SaveSuggestions(list)
}

// SetSessionStatus records one member's status for one session.
func (s *Service) SetSessionStatus(v Variant, date, memberID string, index int, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate.Var(date, "required,datetime=2006-01-02"); err != nil {
		return fmt.Errorf("invalid date: %w", err)
	}
	if memberID == "" {
		return errors.New("member id required")
	}
	rec, err := s.repo.Attendance(v).WithStatus(date, memberID, index, status)
	if err != nil {
		return err
	}
	return s.repo.SaveAttendance(v, rec)
}

// SetSessionInfo names a session and its host for one day.
func (s *Service) SetSessionInfo(v Variant, date string, index int, name, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate.Var(date, "required,datetime=2006-01-02"); err != nil {
		return fmt.Errorf("invalid date: %w", err)
	}
	if index < 0 || index >= SessionsPerDay {
		return fmt.Errorf("session index %d out of range", index)
	}
	meta := s.repo.Metadata(v).Clone()
	day := meta[date]
	day.SessionNames = padded(day.SessionNames)
	day.SessionHosts = padded(day.SessionHosts)
	day.SessionNames[index] = strings.TrimSpace(name)
	day.SessionHosts[index] = strings.TrimSpace(host)
	meta[date] = day
	return s.repo.SaveMetadata(v, meta)
}

// SetSessionCount records how many sessions ran on a day.
func (s *Service) SetSessionCount(v Variant, date string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate.Var(date, "required,datetime=2006-01-02"); err != nil {
		return fmt.Errorf("invalid date: %w", err)
	}
	if count < 0 || count > SessionsPerDay {
		return fmt.Errorf("session count %d out of range", count)
	}
	meta := s.repo.Metadata(v).Clone()
	day := meta[date]
	day.SessionCount = &count
	meta[date] = day
	return s.repo.SaveMetadata(v, meta)
}

// ClearMonth drops every attendance entry of a month and saves the result.
func (s *Service) ClearMonth(v Variant, year int, month time.Month) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveAttendance(v, ClearMonth(s.repo.Attendance(v), year, month))
}

// SetGlobalSessionNames saves the default session-name template.
func (s *Service) SetGlobalSessionNames(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, SessionsPerDay)
	for i := range out {
		if i < len(names) {
			out[i] = strings.TrimSpace(names[i])
		}
	}
	return s.repo.SaveGlobalSessionNames(out)
}

// SetClubLink saves the club link.
func (s *Service) SetClubLink(link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveClubLink(strings.TrimSpace(link))
}
