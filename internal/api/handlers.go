package api

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hordegraphy/internal/attendance"
	"hordegraphy/internal/stats"
	"hordegraphy/internal/store"
)

func (s *Server) listMembers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"members": stats.CanonicalOrder(s.store.Members())})
}

func (s *Server) addMember(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		JoinedAt string `json:"joinedAt"`
		IsStaff  bool   `json:"isStaff"`
		IsLeader bool   `json:"isLeader"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := s.svc.AddMember(attendance.NewMember{
		Name:     req.Name,
		JoinedAt: req.JoinedAt,
		IsStaff:  req.IsStaff,
		IsLeader: req.IsLeader,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) updateMember(c *gin.Context) {
	var req struct {
		Name     *string `json:"name"`
		IsStaff  *bool   `json:"isStaff"`
		IsLeader *bool   `json:"isLeader"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	i := slices.IndexFunc(s.store.Members(), func(m attendance.Member) bool { return m.ID == id })
	if i < 0 {
		writeError(c, attendance.ErrNotFound)
		return
	}
	m := s.store.Members()[i]

	var err error
	if req.Name != nil {
		if m, err = s.svc.RenameMember(id, *req.Name); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.IsStaff != nil || req.IsLeader != nil {
		staff, leader := m.IsStaff, m.IsLeader
		if req.IsStaff != nil {
			staff = *req.IsStaff
		}
		if req.IsLeader != nil {
			leader = *req.IsLeader
		}
		if m, err = s.svc.SetMemberRoles(id, staff, leader); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) deleteMember(c *gin.Context) {
	if err := s.svc.DeleteMember(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listBanned(c *gin.Context) {
	if q := c.Query("q"); q != "" {
		c.JSON(http.StatusOK, gin.H{"banned": nonNil(s.svc.SearchBanned(q))})
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": s.store.BannedMembers()})
}

func (s *Server) banMember(c *gin.Context) {
	var req struct {
		Name   string `json:"name" binding:"required"`
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := s.svc.BanMember(req.Name, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *Server) unbanMember(c *gin.Context) {
	if err := s.svc.UnbanMember(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func variantParam(c *gin.Context) (attendance.Variant, bool) {
	v, err := attendance.ParseVariant(c.Param("variant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return v, true
}

func indexParam(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a number"})
		return 0, false
	}
	return i, true
}

func (s *Server) getAttendance(c *gin.Context) {
	v, ok := variantParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.store.Attendance(v))
}

func (s *Server) setStatus(c *gin.Context) {
	v, ok := variantParam(c)
	if !ok {
		return
	}
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req struct {
		Status *int `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, member := c.Param("date"), c.Param("member")
	if err := s.svc.SetSessionStatus(v, date, member, index, attendance.Status(*req.Status)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "member": member, "vector": s.store.Attendance(v).Vector(date, member)})
}

func (s *Server) clearMonth(c *gin.Context) {
	v, ok := variantParam(c)
	if !ok {
		return
	}
	month, err := time.Parse("2006-01", c.Param("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
		return
	}
	if err := s.svc.ClearMonth(v, month.Year(), month.Month()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getMetadata(c *gin.Context) {
	v, ok := variantParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.store.Metadata(v))
}

func (s *Server) setSessionInfo(c *gin.Context) {
	v, ok := variantParam(c)
	if !ok {
		return
	}
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
		Host string `json:"host"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date := c.Param("date")
	if err := s.svc.SetSessionInfo(v, date, index, req.Name, req.Host); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.store.Metadata(v)[date])
}

func (s *Server) setSessionCount(c *gin.Context) {
	v, ok := variantParam(c)
	if !ok {
		return
	}
	var req struct {
		Count *int `json:"count" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date := c.Param("date")
	if err := s.svc.SetSessionCount(v, date, *req.Count); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.store.Metadata(v)[date])
}

func (s *Server) getSessionNames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"names": s.store.GlobalSessionNames()})
}

func (s *Server) putSessionNames(c *gin.Context) {
	var req struct {
		Names []string `json:"names" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.SetGlobalSessionNames(req.Names); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"names": s.store.GlobalSessionNames()})
}

func (s *Server) getClubLink(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"link": s.store.ClubLink()})
}

func (s *Server) putClubLink(c *gin.Context) {
	var req struct {
		Link string `json:"link"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.SetClubLink(req.Link); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": s.store.ClubLink()})
}

type suggestionView struct {
	attendance.Suggestion
	DisplayAuthor string `json:"displayAuthor"`
}

func (s *Server) listSuggestions(c *gin.Context) {
	list := s.store.Suggestions()
	out := make([]suggestionView, len(list))
	for i, sg := range list {
		out[i] = suggestionView{Suggestion: sg, DisplayAuthor: sg.DisplayAuthor()}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": out})
}

func (s *Server) addSuggestion(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
		Author  string `json:"author"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sg, err := s.svc.AddSuggestion(req.Content, req.Author)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, suggestionView{Suggestion: sg, DisplayAuthor: sg.DisplayAuthor()})
}

func (s *Server) deleteSuggestion(c *gin.Context) {
	if err := s.svc.DeleteSuggestion(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) sources() stats.Sources {
	return stats.Sources{
		Offline:     s.store.Attendance(attendance.Offline),
		Online:      s.store.Attendance(attendance.Online),
		OfflineMeta: s.store.Metadata(attendance.Offline),
		OnlineMeta:  s.store.Metadata(attendance.Online),
	}
}

type rowView struct {
	stats.Row
	Total int `json:"total"`
}

// monthView renders the monthly table. The query carries the view state:
// month, q (search), session (date:variant:index filter) and sort=desc.
func (s *Server) monthView(c *gin.Context) {
	state := stats.NewViewState(s.now())
	if m := c.Query("month"); m != "" {
		t, err := time.Parse("2006-01", m)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
			return
		}
		state.SetMonth(t.Year(), t.Month())
	}
	state.Search = c.Query("q")
	if ref := c.Query("session"); ref != "" {
		parsed, err := stats.ParseSessionRef(ref)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state.ClickSession(parsed)
	}
	if c.Query("sort") == "desc" {
		state.ToggleSort()
	}

	rows := stats.View(s.store.Members(), s.sources(), state)
	out := make([]rowView, len(rows))
	for i, r := range rows {
		out[i] = rowView{Row: r, Total: r.Total()}
	}
	resp := gin.H{
		"month": attendance.MonthPrefix(state.Year, int(state.Month)),
		"days":  stats.DaysIn(state.Year, state.Month),
		"sort":  state.Sort.String(),
		"rows":  out,
	}
	if ref, ok := state.Filter.Active(); ok {
		resp["session"] = ref
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) sessionDetail(c *gin.Context) {
	v, err := attendance.ParseVariant(c.DefaultQuery("variant", "offline"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, err := stats.ParseSessionRef(c.Query("date") + ":" + string(v) + ":" + c.Query("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats.SessionDetail(s.store.Members(), s.sources(), ref, c.Query("member")))
}

func (s *Server) exportBundle(c *gin.Context) {
	now := s.now()
	data, err := s.store.Export(now)
	if err != nil {
		s.log.WithError(err).Error("export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+store.BackupFilename(now)+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) importBundle(c *gin.Context) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "backup too large"})
		return
	}
	if err := s.store.Import(data); err != nil {
		if errors.Is(err, store.ErrFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": true})
}

func (s *Server) report(c *gin.Context) {
	if s.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report generator not configured"})
		return
	}
	month := c.Query("month")
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
			return
		}
	}
	totals := stats.Summary(s.store.Members(), month,
		s.store.Attendance(attendance.Offline), s.store.Attendance(attendance.Online))
	if len(totals) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no members"})
		return
	}
	text, err := s.reports.Generate(c.Request.Context(), month, totals)
	if err != nil {
		s.log.WithError(err).Warn("report generation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "report generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"month": month, "report": text})
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
