package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps every record in process memory. Records are copied on the way in
// and out so callers never share mutable state with the store.
type InMemoryStore struct {
	mu sync.RWMutex

	nextID int64

	coordinators map[int64]models.Coordinator
	agents       map[int64]models.Agent
	interactions map[int64]models.Interaction
	feedback     map[int64]models.Feedback
	diary        map[int64]models.DiaryEntry
	training     map[int64]models.TrainingRecord
	categories   []models.ProductCategory
	products     []models.Product
	flowStates   map[string]models.FlowState
	dedup        map[string]DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		coordinators: make(map[int64]models.Coordinator),
		agents:       make(map[int64]models.Agent),
		interactions: make(map[int64]models.Interaction),
		feedback:     make(map[int64]models.Feedback),
		diary:        make(map[int64]models.DiaryEntry),
		training:     make(map[int64]models.TrainingRecord),
		flowStates:   make(map[string]models.FlowState),
		dedup:        make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore) GetCoordinator(_ context.Context, id int64) (*models.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coordinators[id]
	if !ok {
		return nil, fmt.Errorf("coordinator %d: %w", id, ErrNotFound)
	}
	c.ActiveAgentCount = s.activeCountLocked(id)
	return &c, nil
}

func (s *InMemoryStore) GetCoordinatorByConversant(_ context.Context, conversantID string) (*models.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.coordinators {
		if c.ConversantID == conversantID {
			c.ActiveAgentCount = s.activeCountLocked(c.ID)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("coordinator for conversant %s: %w", conversantID, ErrNotFound)
}

func (s *InMemoryStore) activeCountLocked(coordinatorID int64) int {
	n := 0
	for _, a := range s.agents {
		if a.CoordinatorID != nil && *a.CoordinatorID == coordinatorID && a.LifecycleState.Status() == models.AgentStatusActive {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) CreateCoordinator(_ context.Context, c models.Coordinator) (models.Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.coordinators {
		if c.ConversantID != "" && existing.ConversantID == c.ConversantID {
			return models.Coordinator{}, fmt.Errorf("coordinator for conversant %s already exists", c.ConversantID)
		}
	}
	c.ID = s.id()
	if c.MaxCapacity == 0 {
		c.MaxCapacity = models.DefaultMaxCapacity
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.coordinators[c.ID] = c
	slog.Debug("InMemoryStore.CreateCoordinator: created", "coordinatorID", c.ID)
	return c, nil
}

func (s *InMemoryStore) GetAgent(_ context.Context, id int64) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	a = cloneAgent(a)
	return &a, nil
}

func (s *InMemoryStore) CreateAgent(_ context.Context, a models.Agent) (models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.LifecycleState == "" {
		a.LifecycleState = models.LifecycleDormant
	}
	s.agents[a.ID] = cloneAgent(a)
	return a, nil
}

func (s *InMemoryStore) GetAgentsByCoordinator(_ context.Context, coordinatorID int64, page int, search string) (models.AgentPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]models.Agent, 0)
	for _, a := range s.agents {
		if a.CoordinatorID == nil || *a.CoordinatorID != coordinatorID {
			continue
		}
		if !MatchesAgentSearch(a, search) {
			continue
		}
		matched = append(matched, cloneAgent(a))
	}
	SortAgentsByScore(matched)
	return PaginateAgents(matched, page), nil
}

// PaginateAgents cuts one page of models.AgentsPerPage agents from an already sorted list.
// Out-of-range pages are clamped.
func PaginateAgents(sorted []models.Agent, page int) models.AgentPage {
	pages := totalPages(len(sorted), models.AgentsPerPage)
	page = normalizePage(page, pages)
	start := (page - 1) * models.AgentsPerPage
	end := start + models.AgentsPerPage
	if start > len(sorted) {
		start = len(sorted)
	}
	if end > len(sorted) {
		end = len(sorted)
	}
	return models.AgentPage{
		Agents:     sorted[start:end],
		Page:       page,
		TotalPages: pages,
		Total:      len(sorted),
	}
}

func (s *InMemoryStore) ListAgentsByCoordinator(_ context.Context, coordinatorID int64) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Agent
	for _, a := range s.agents {
		if a.CoordinatorID != nil && *a.CoordinatorID == coordinatorID {
			out = append(out, cloneAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) UpdateAgentAfterContact(_ context.Context, u models.ContactUpdate) (models.AgentDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[u.AgentID]; !ok {
		return models.AgentDelta{}, fmt.Errorf("agent %d: %w", u.AgentID, ErrNotFound)
	}
	return s.applyContactLocked(u), nil
}

// applyContactLocked updates an agent known to exist.
func (s *InMemoryStore) applyContactLocked(u models.ContactUpdate) models.AgentDelta {
	a := s.agents[u.AgentID]
	delta := a.ApplyContact(u)
	contact := delta.LastContactDate
	a.LifecycleState = delta.ToState
	a.EngagementScore = delta.EngagementScore
	a.LastContactDate = &contact
	a.UpdatedAt = time.Now().UTC()
	s.agents[a.ID] = a
	return delta
}

// RecordContact validates everything up front, then writes under one lock, so a failure
// leaves no partial contact behind.
func (s *InMemoryStore) RecordContact(_ context.Context, rec models.ContactRecord) (models.ContactReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[rec.Interaction.AgentID]; !ok {
		return models.ContactReceipt{}, fmt.Errorf("agent %d: %w", rec.Interaction.AgentID, ErrNotFound)
	}
	var r models.ContactReceipt
	r.Interaction = s.createInteractionLocked(rec.Interaction)
	if rec.Feedback != nil {
		in := *rec.Feedback
		interactionID := r.Interaction.ID
		in.InteractionID = &interactionID
		fb := s.createFeedbackLocked(in)
		r.Feedback = &fb
	}
	r.Delta = s.applyContactLocked(rec.Update())
	slog.Debug("InMemoryStore.RecordContact: recorded", "agentID", rec.Interaction.AgentID, "interactionID", r.Interaction.ID)
	return r, nil
}

func (s *InMemoryStore) CreateInteraction(_ context.Context, in models.NewInteraction) (models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createInteractionLocked(in), nil
}

func (s *InMemoryStore) createInteractionLocked(in models.NewInteraction) models.Interaction {
	i := models.Interaction{
		ID:            s.id(),
		AgentID:       in.AgentID,
		CoordinatorID: in.CoordinatorID,
		Type:          in.Type,
		Outcome:       in.Outcome,
		Notes:         in.Notes,
		VoiceFileID:   in.VoiceFileID,
		FollowUpDate:  cloneTime(in.FollowUpDate),
		CreatedAt:     time.Now().UTC(),
	}
	if i.FollowUpDate != nil {
		i.FollowUpStatus = models.FollowUpPending
	}
	s.interactions[i.ID] = i
	return cloneInteraction(i)
}

func (s *InMemoryStore) GetOverdueInteractions(_ context.Context, coordinatorID int64, asOf time.Time) ([]models.Interaction, error) {
	return s.pendingFollowUps(coordinatorID, func(d time.Time) bool { return d.Before(asOf) }), nil
}

func (s *InMemoryStore) GetUpcomingFollowUps(_ context.Context, coordinatorID int64, from time.Time) ([]models.Interaction, error) {
	return s.pendingFollowUps(coordinatorID, func(d time.Time) bool { return !d.Before(from) }), nil
}

// pendingFollowUps returns pending interactions whose follow-up date satisfies keep, earliest first.
func (s *InMemoryStore) pendingFollowUps(coordinatorID int64, keep func(time.Time) bool) []models.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Interaction
	for _, i := range s.interactions {
		if i.CoordinatorID != coordinatorID || i.FollowUpStatus != models.FollowUpPending || i.FollowUpDate == nil {
			continue
		}
		if keep(*i.FollowUpDate) {
			out = append(out, cloneInteraction(i))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].FollowUpDate.Equal(*out[b].FollowUpDate) {
			return out[a].FollowUpDate.Before(*out[b].FollowUpDate)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func (s *InMemoryStore) ListInteractions(_ context.Context, coordinatorID int64, since time.Time) ([]models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Interaction
	for _, i := range s.interactions {
		if i.CoordinatorID == coordinatorID && !i.CreatedAt.Before(since) {
			out = append(out, cloneInteraction(i))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *InMemoryStore) CreateFeedback(_ context.Context, in models.NewFeedback) (models.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createFeedbackLocked(in), nil
}

func (s *InMemoryStore) createFeedbackLocked(in models.NewFeedback) models.Feedback {
	f := models.Feedback{
		ID:            s.id(),
		AgentID:       in.AgentID,
		CoordinatorID: in.CoordinatorID,
		InteractionID: cloneInt(in.InteractionID),
		Category:      in.Category,
		Subcategory:   in.Subcategory,
		RawText:       in.RawText,
		VoiceFileID:   in.VoiceFileID,
		Sentiment:     in.Sentiment,
		Priority:      in.Priority,
		Status:        models.FeedbackNew,
		CreatedAt:     time.Now().UTC(),
	}
	s.feedback[f.ID] = f
	f.InteractionID = cloneInt(f.InteractionID)
	return f
}

func (s *InMemoryStore) ListFeedback(_ context.Context, coordinatorID int64, since time.Time) ([]models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Feedback
	for _, f := range s.feedback {
		if f.CoordinatorID == coordinatorID && !f.CreatedAt.Before(since) {
			f.InteractionID = cloneInt(f.InteractionID)
			out = append(out, f)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *InMemoryStore) UpdateFeedbackStatus(_ context.Context, id int64, status models.FeedbackStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feedback[id]
	if !ok {
		return fmt.Errorf("feedback %d: %w", id, ErrNotFound)
	}
	if err := models.CheckFeedbackTransition(f.Status, status); err != nil {
		return err
	}
	f.Status = status
	s.feedback[id] = f
	return nil
}

func (s *InMemoryStore) CreateDiaryEntry(_ context.Context, e models.DiaryEntry) (models.DiaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	if e.Status == "" {
		e.Status = models.DiaryScheduled
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.AgentID = cloneInt(e.AgentID)
	s.diary[e.ID] = e
	return e, nil
}

func (s *InMemoryStore) GetDiaryEntries(_ context.Context, coordinatorID int64, onOrAfter, onOrBefore time.Time) ([]models.DiaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DiaryEntry
	for _, e := range s.diary {
		if e.CoordinatorID != coordinatorID {
			continue
		}
		if !onOrAfter.IsZero() && e.ScheduledDate.Before(onOrAfter) {
			continue
		}
		if e.ScheduledDate.After(onOrBefore) {
			continue
		}
		e.AgentID = cloneInt(e.AgentID)
		out = append(out, e)
	}
	SortDiaryEntries(out)
	return out, nil
}

func (s *InMemoryStore) UpdateDiaryStatus(_ context.Context, id int64, status models.DiaryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.diary[id]
	if !ok {
		return fmt.Errorf("diary entry %d: %w", id, ErrNotFound)
	}
	if err := models.CheckDiaryTransition(e.Status, status); err != nil {
		return err
	}
	e.Status = status
	s.diary[id] = e
	return nil
}

func (s *InMemoryStore) UpsertTrainingRecord(_ context.Context, in models.TrainingUpsert) (models.TrainingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, r := range s.training {
		if r.CoordinatorID == in.CoordinatorID && r.ProductID == in.ProductID {
			r.ProductName = in.ProductName
			r.QuizScore = in.QuizScore
			r.Completed = in.Completed
			r.CompletedAt = cloneTime(in.CompletedAt)
			r.UpdatedAt = now
			s.training[id] = r
			return r, nil
		}
	}
	r := models.TrainingRecord{
		ID:            s.id(),
		CoordinatorID: in.CoordinatorID,
		ProductID:     in.ProductID,
		ProductName:   in.ProductName,
		QuizScore:     in.QuizScore,
		Completed:     in.Completed,
		CompletedAt:   cloneTime(in.CompletedAt),
		UpdatedAt:     now,
	}
	s.training[r.ID] = r
	return r, nil
}

func (s *InMemoryStore) ListTrainingRecords(_ context.Context, coordinatorID int64) ([]models.TrainingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TrainingRecord
	for _, r := range s.training {
		if r.CoordinatorID == coordinatorID {
			r.CompletedAt = cloneTime(r.CompletedAt)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *InMemoryStore) SaveFlowState(_ context.Context, state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[state.ConversantID] = state
	return nil
}

func (s *InMemoryStore) GetFlowState(_ context.Context, conversantID string) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.flowStates[conversantID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *InMemoryStore) DeleteFlowState(_ context.Context, conversantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, conversantID)
	return nil
}

func (s *InMemoryStore) DeleteFlowStatesBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, st := range s.flowStates {
		if !st.UpdatedAt.After(cutoff) {
			delete(s.flowStates, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (s *InMemoryStore) IsDuplicate(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, conversantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, ConversantID: conversantID, ReceivedAt: time.Now().UTC()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	r.ProcessedAt = &now
	s.dedup[messageID] = r
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// MatchesAgentSearch reports whether a matches a case-insensitive search on name,
// phone or agent code. An empty search matches everything.
func MatchesAgentSearch(a models.Agent, search string) bool {
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(a.Name), q) || strings.Contains(a.Phone, q) {
		return true
	}
	if id, ok := ParseAgentCode(q); ok && id == a.ID {
		return true
	}
	return strings.Contains(strings.ToLower(a.Code()), q)
}

// ParseAgentCode extracts the numeric id from an agent code such as "AGT007".
func ParseAgentCode(code string) (int64, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if !strings.HasPrefix(c, "AGT") || len(c) == 3 {
		return 0, false
	}
	n, err := strconv.ParseInt(c[3:], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// SortAgentsByScore orders agents by engagement score descending, then id ascending.
func SortAgentsByScore(agents []models.Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		if agents[i].EngagementScore != agents[j].EngagementScore {
			return agents[i].EngagementScore > agents[j].EngagementScore
		}
		return agents[i].ID < agents[j].ID
	})
}

// SortDiaryEntries orders entries by date, then time, then id.
func SortDiaryEntries(entries []models.DiaryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		if a.ScheduledTime != b.ScheduledTime {
			return a.ScheduledTime < b.ScheduledTime
		}
		return a.ID < b.ID
	})
}

func (s *InMemoryStore) ListProductCategories(_ context.Context) ([]models.ProductCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ProductCategory(nil), s.categories...), nil
}

func (s *InMemoryStore) ListProducts(_ context.Context, category string) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Product
	for _, p := range s.products {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveProductCategory(_ context.Context, c models.ProductCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.categories {
		if s.categories[i].Key == c.Key {
			s.categories[i] = c
			return nil
		}
	}
	s.categories = append(s.categories, c)
	return nil
}

func (s *InMemoryStore) SaveProduct(_ context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID == p.ID {
			s.products[i] = p
			return nil
		}
	}
	s.products = append(s.products, p)
	return nil
}

func cloneAgent(a models.Agent) models.Agent {
	a.LastContactDate = cloneTime(a.LastContactDate)
	a.CoordinatorID = cloneInt(a.CoordinatorID)
	return a
}

func cloneInteraction(i models.Interaction) models.Interaction {
	i.FollowUpDate = cloneTime(i.FollowUpDate)
	return i
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
