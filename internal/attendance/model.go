package attendance

import (
	"fmt"
	"strings"
)

// SessionsPerDay is the fixed length of every session vector.
const SessionsPerDay = 4

// AnonymousAuthor is shown for suggestions submitted without a name.
const AnonymousAuthor = "익명"

// DefaultSessionNames is the session-name template used until one is saved.
var DefaultSessionNames = []string{"모임 1회", "모임 2회", "모임 3회", "모임 4회"}

// Member is a club member. ID never changes once assigned; names may repeat.
type Member struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	JoinedAt      string   `json:"joinedAt"`
	IsStaff       bool     `json:"isStaff,omitempty"`
	IsLeader      bool     `json:"isLeader,omitempty"`
	PreviousNames []string `json:"previousNames,omitempty"`
}

// BannedMember records a removed member. It does not reference a Member.
type BannedMember struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Reason   string `json:"reason"`
	BannedAt string `json:"bannedAt"`
}

// Suggestion is an entry in the club suggestion box.
type Suggestion struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	CreatedAt string `json:"createdAt"`
}

// DisplayAuthor returns the author, or AnonymousAuthor when none was given.
func (s Suggestion) DisplayAuthor() string {
	if strings.TrimSpace(s.Author) == "" {
		return AnonymousAuthor
	}
	return s.Author
}

// Variant selects one of the two independent attendance pipelines.
type Variant string

const (
	Offline Variant = "offline"
	Online  Variant = "online"
)

// ParseVariant accepts the long and short spellings used by clients.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offline", "off":
		return Offline, nil
	case "online", "on":
		return Online, nil
	}
	return "", fmt.Errorf("unknown variant %q", s)
}

// DateKey formats a calendar day as YYYY-MM-DD.
func DateKey(year, month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// MonthPrefix formats the YYYY-MM prefix shared by every date key of a month.
func MonthPrefix(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}
