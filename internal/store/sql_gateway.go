package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// sqlGateway implements Gateway and FlowStateRepo over database/sql. Queries are written
// with '?' placeholders and passed through bind for the target dialect.
type sqlGateway struct {
	db   *sql.DB
	name string // component name used in log messages
	bind func(string) string
	// rowLock is appended to a SELECT that must lock the row for the rest of the transaction.
	// SQLite needs none: its pool holds a single connection, so a transaction excludes all other work.
	rowLock string
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction, committing when it returns nil.
func (g *sqlGateway) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			slog.Error(g.name+" rollback failed", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// questionBind leaves '?' placeholders untouched (SQLite).
func questionBind(q string) string { return q }

// dollarBind rewrites '?' placeholders to $1, $2, ... (PostgreSQL).
func dollarBind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const coordinatorColumns = `c.id, c.name, c.employee_id, c.region, COALESCE(c.conversant_id, ''), c.max_capacity, c.created_at,
	(SELECT COUNT(*) FROM agents a WHERE a.coordinator_id = c.id AND a.lifecycle_state IN ('contacted', 'engaged', 'trained', 'active'))`

func scanCoordinator(row rowScanner) (models.Coordinator, error) {
	var c models.Coordinator
	err := row.Scan(&c.ID, &c.Name, &c.EmployeeID, &c.Region, &c.ConversantID, &c.MaxCapacity, &c.CreatedAt, &c.ActiveAgentCount)
	return c, err
}

func (g *sqlGateway) GetCoordinator(ctx context.Context, id int64) (*models.Coordinator, error) {
	row := g.db.QueryRowContext(ctx, g.bind(`SELECT `+coordinatorColumns+` FROM coordinators c WHERE c.id = ?`), id)
	c, err := scanCoordinator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("coordinator %d: %w", id, ErrNotFound)
	}
	if err != nil {
		slog.Error(g.name+".GetCoordinator failed", "error", err, "coordinatorID", id)
		return nil, fmt.Errorf("failed to get coordinator %d: %w", id, err)
	}
	return &c, nil
}

func (g *sqlGateway) GetCoordinatorByConversant(ctx context.Context, conversantID string) (*models.Coordinator, error) {
	row := g.db.QueryRowContext(ctx, g.bind(`SELECT `+coordinatorColumns+` FROM coordinators c WHERE c.conversant_id = ?`), conversantID)
	c, err := scanCoordinator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("coordinator for conversant %s: %w", conversantID, ErrNotFound)
	}
	if err != nil {
		slog.Error(g.name+".GetCoordinatorByConversant failed", "error", err, "conversantID", conversantID)
		return nil, fmt.Errorf("failed to get coordinator for %s: %w", conversantID, err)
	}
	return &c, nil
}

func (g *sqlGateway) CreateCoordinator(ctx context.Context, c models.Coordinator) (models.Coordinator, error) {
	if c.MaxCapacity == 0 {
		c.MaxCapacity = models.DefaultMaxCapacity
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.CreatedAt = c.CreatedAt.UTC()
	err := g.db.QueryRowContext(ctx, g.bind(`
		INSERT INTO coordinators (name, employee_id, region, conversant_id, max_capacity, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		c.Name, c.EmployeeID, c.Region, nilIfEmpty(c.ConversantID), c.MaxCapacity, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		slog.Error(g.name+".CreateCoordinator failed", "error", err, "conversantID", c.ConversantID)
		return models.Coordinator{}, fmt.Errorf("failed to create coordinator: %w", err)
	}
	slog.Debug(g.name+".CreateCoordinator succeeded", "coordinatorID", c.ID)
	return c, nil
}

const agentColumns = `id, name, phone, channel, location, lifecycle_state, engagement_score, dormancy_reason,
	dormancy_duration_days, last_contact_date, coordinator_id, created_at, updated_at`

func (g *sqlGateway) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	row := g.db.QueryRowContext(ctx, g.bind(`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	if err != nil {
		slog.Error(g.name+".GetAgent failed", "error", err, "agentID", id)
		return nil, fmt.Errorf("failed to get agent %d: %w", id, err)
	}
	return &a, nil
}

func (g *sqlGateway) CreateAgent(ctx context.Context, a models.Agent) (models.Agent, error) {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.LifecycleState == "" {
		a.LifecycleState = models.LifecycleDormant
	}
	err := g.db.QueryRowContext(ctx, g.bind(`
		INSERT INTO agents (name, phone, channel, location, lifecycle_state, engagement_score, dormancy_reason,
			dormancy_duration_days, last_contact_date, coordinator_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		a.Name, a.Phone, a.Channel, a.Location, string(a.LifecycleState), a.EngagementScore, string(a.DormancyReason),
		a.DormancyDurationDays, nullTime(a.LastContactDate), nullInt(a.CoordinatorID), a.CreatedAt.UTC(), a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		slog.Error(g.name+".CreateAgent failed", "error", err)
		return models.Agent{}, fmt.Errorf("failed to create agent: %w", err)
	}
	return a, nil
}

// agentSearchClause returns the WHERE fragment and args filtering agents by search text.
func agentSearchClause(search string) (string, []any) {
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return "", nil
	}
	codeID := int64(-1)
	if id, ok := ParseAgentCode(q); ok {
		codeID = id
	}
	like := "%" + q + "%"
	return ` AND (LOWER(name) LIKE ? OR phone LIKE ? OR id = ?)`, []any{like, like, codeID}
}

func (g *sqlGateway) GetAgentsByCoordinator(ctx context.Context, coordinatorID int64, page int, search string) (models.AgentPage, error) {
	clause, searchArgs := agentSearchClause(search)
	args := append([]any{coordinatorID}, searchArgs...)

	var total int
	if err := g.db.QueryRowContext(ctx, g.bind(`SELECT COUNT(*) FROM agents WHERE coordinator_id = ?`+clause), args...).Scan(&total); err != nil {
		slog.Error(g.name+".GetAgentsByCoordinator count failed", "error", err, "coordinatorID", coordinatorID)
		return models.AgentPage{}, fmt.Errorf("failed to count agents: %w", err)
	}
	pages := totalPages(total, models.AgentsPerPage)
	page = normalizePage(page, pages)

	query := `SELECT ` + agentColumns + ` FROM agents WHERE coordinator_id = ?` + clause +
		` ORDER BY engagement_score DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, models.AgentsPerPage, (page-1)*models.AgentsPerPage)
	agents, err := g.queryAgents(ctx, query, args...)
	if err != nil {
		return models.AgentPage{}, err
	}
	slog.Debug(g.name+".GetAgentsByCoordinator succeeded", "coordinatorID", coordinatorID, "page", page, "count", len(agents))
	return models.AgentPage{Agents: agents, Page: page, TotalPages: pages, Total: total}, nil
}

func (g *sqlGateway) ListAgentsByCoordinator(ctx context.Context, coordinatorID int64) ([]models.Agent, error) {
	return g.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents WHERE coordinator_id = ? ORDER BY id`, coordinatorID)
}

func (g *sqlGateway) queryAgents(ctx context.Context, query string, args ...any) ([]models.Agent, error) {
	rows, err := g.db.QueryContext(ctx, g.bind(query), args...)
	if err != nil {
		slog.Error(g.name+" agent query failed", "error", err)
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()
	agents := make([]models.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent rows: %w", err)
	}
	return agents, nil
}

func (g *sqlGateway) UpdateAgentAfterContact(ctx context.Context, u models.ContactUpdate) (models.AgentDelta, error) {
	var delta models.AgentDelta
	err := g.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		delta, err = g.applyContact(ctx, tx, u)
		return err
	})
	if err != nil {
		return models.AgentDelta{}, err
	}
	slog.Debug(g.name+".UpdateAgentAfterContact succeeded", "agentID", u.AgentID, "state", delta.ToState, "score", delta.EngagementScore)
	return delta, nil
}

// applyContact reads the agent with its row locked and writes the contact delta computed
// from that row.
func (g *sqlGateway) applyContact(ctx context.Context, tx *sql.Tx, u models.ContactUpdate) (models.AgentDelta, error) {
	row := tx.QueryRowContext(ctx, g.bind(`SELECT `+agentColumns+` FROM agents WHERE id = ?`+g.rowLock), u.AgentID)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AgentDelta{}, fmt.Errorf("agent %d: %w", u.AgentID, ErrNotFound)
	}
	if err != nil {
		slog.Error(g.name+".applyContact read failed", "error", err, "agentID", u.AgentID)
		return models.AgentDelta{}, fmt.Errorf("failed to read agent %d: %w", u.AgentID, err)
	}
	delta := agent.ApplyContact(u)
	_, err = tx.ExecContext(ctx, g.bind(`
		UPDATE agents SET lifecycle_state = ?, engagement_score = ?, last_contact_date = ?, updated_at = ?
		WHERE id = ?`),
		string(delta.ToState), delta.EngagementScore, delta.LastContactDate.UTC(), time.Now().UTC(), delta.AgentID)
	if err != nil {
		slog.Error(g.name+".applyContact update failed", "error", err, "agentID", u.AgentID)
		return models.AgentDelta{}, fmt.Errorf("failed to update agent %d: %w", u.AgentID, err)
	}
	return delta, nil
}

// RecordContact updates the agent first, so a missing agent fails before any insert, then
// writes the interaction and the feedback in the same transaction.
func (g *sqlGateway) RecordContact(ctx context.Context, rec models.ContactRecord) (models.ContactReceipt, error) {
	var r models.ContactReceipt
	err := g.inTx(ctx, func(tx *sql.Tx) error {
		delta, err := g.applyContact(ctx, tx, rec.Update())
		if err != nil {
			return err
		}
		r.Delta = delta
		r.Interaction, err = g.insertInteraction(ctx, tx, rec.Interaction)
		if err != nil {
			return err
		}
		if rec.Feedback != nil {
			in := *rec.Feedback
			interactionID := r.Interaction.ID
			in.InteractionID = &interactionID
			fb, err := g.insertFeedback(ctx, tx, in)
			if err != nil {
				return err
			}
			r.Feedback = &fb
		}
		return nil
	})
	if err != nil {
		return models.ContactReceipt{}, err
	}
	slog.Debug(g.name+".RecordContact succeeded", "agentID", rec.Interaction.AgentID, "interactionID", r.Interaction.ID)
	return r, nil
}

const interactionColumns = `id, agent_id, coordinator_id, interaction_type, outcome, notes, voice_file_id,
	follow_up_date, follow_up_status, created_at`

func (g *sqlGateway) CreateInteraction(ctx context.Context, in models.NewInteraction) (models.Interaction, error) {
	return g.insertInteraction(ctx, g.db, in)
}

func (g *sqlGateway) insertInteraction(ctx context.Context, q querier, in models.NewInteraction) (models.Interaction, error) {
	i := models.Interaction{
		AgentID:       in.AgentID,
		CoordinatorID: in.CoordinatorID,
		Type:          in.Type,
		Outcome:       in.Outcome,
		Notes:         in.Notes,
		VoiceFileID:   in.VoiceFileID,
		FollowUpDate:  in.FollowUpDate,
		CreatedAt:     time.Now().UTC(),
	}
	if i.FollowUpDate != nil {
		i.FollowUpStatus = models.FollowUpPending
	}
	err := q.QueryRowContext(ctx, g.bind(`
		INSERT INTO interactions (agent_id, coordinator_id, interaction_type, outcome, notes, voice_file_id,
			follow_up_date, follow_up_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		i.AgentID, i.CoordinatorID, string(i.Type), string(i.Outcome), i.Notes, i.VoiceFileID,
		nullTime(i.FollowUpDate), string(i.FollowUpStatus), i.CreatedAt,
	).Scan(&i.ID)
	if err != nil {
		slog.Error(g.name+".CreateInteraction failed", "error", err, "agentID", in.AgentID)
		return models.Interaction{}, fmt.Errorf("failed to create interaction: %w", err)
	}
	slog.Debug(g.name+".CreateInteraction succeeded", "interactionID", i.ID, "agentID", i.AgentID)
	return i, nil
}

func (g *sqlGateway) GetOverdueInteractions(ctx context.Context, coordinatorID int64, asOf time.Time) ([]models.Interaction, error) {
	return g.queryInteractions(ctx, `SELECT `+interactionColumns+` FROM interactions
		WHERE coordinator_id = ? AND follow_up_status = ? AND follow_up_date IS NOT NULL AND follow_up_date < ?
		ORDER BY follow_up_date ASC, id ASC`,
		coordinatorID, string(models.FollowUpPending), asOf.UTC())
}

func (g *sqlGateway) GetUpcomingFollowUps(ctx context.Context, coordinatorID int64, from time.Time) ([]models.Interaction, error) {
	return g.queryInteractions(ctx, `SELECT `+interactionColumns+` FROM interactions
		WHERE coordinator_id = ? AND follow_up_status = ? AND follow_up_date IS NOT NULL AND follow_up_date >= ?
		ORDER BY follow_up_date ASC, id ASC`,
		coordinatorID, string(models.FollowUpPending), from.UTC())
}

func (g *sqlGateway) ListInteractions(ctx context.Context, coordinatorID int64, since time.Time) ([]models.Interaction, error) {
	return g.queryInteractions(ctx, `SELECT `+interactionColumns+` FROM interactions
		WHERE coordinator_id = ? AND created_at >= ? ORDER BY id`,
		coordinatorID, since.UTC())
}

func (g *sqlGateway) queryInteractions(ctx context.Context, query string, args ...any) ([]models.Interaction, error) {
	rows, err := g.db.QueryContext(ctx, g.bind(query), args...)
	if err != nil {
		slog.Error(g.name+" interaction query failed", "error", err)
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()
	var out []models.Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction row: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interaction rows: %w", err)
	}
	return out, nil
}

const feedbackColumns = `id, agent_id, coordinator_id, interaction_id, category, subcategory, raw_text, voice_file_id,
	sentiment, priority, status, created_at`

func (g *sqlGateway) CreateFeedback(ctx context.Context, in models.NewFeedback) (models.Feedback, error) {
	return g.insertFeedback(ctx, g.db, in)
}

func (g *sqlGateway) insertFeedback(ctx context.Context, q querier, in models.NewFeedback) (models.Feedback, error) {
	f := models.Feedback{
		AgentID:       in.AgentID,
		CoordinatorID: in.CoordinatorID,
		InteractionID: in.InteractionID,
		Category:      in.Category,
		Subcategory:   in.Subcategory,
		RawText:       in.RawText,
		VoiceFileID:   in.VoiceFileID,
		Sentiment:     in.Sentiment,
		Priority:      in.Priority,
		Status:        models.FeedbackNew,
		CreatedAt:     time.Now().UTC(),
	}
	err := q.QueryRowContext(ctx, g.bind(`
		INSERT INTO feedback (agent_id, coordinator_id, interaction_id, category, subcategory, raw_text, voice_file_id,
			sentiment, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		f.AgentID, f.CoordinatorID, nullInt(f.InteractionID), string(f.Category), f.Subcategory, f.RawText, f.VoiceFileID,
		string(f.Sentiment), string(f.Priority), string(f.Status), f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		slog.Error(g.name+".CreateFeedback failed", "error", err, "agentID", in.AgentID)
		return models.Feedback{}, fmt.Errorf("failed to create feedback: %w", err)
	}
	slog.Debug(g.name+".CreateFeedback succeeded", "feedbackID", f.ID, "agentID", f.AgentID)
	return f, nil
}

func (g *sqlGateway) ListFeedback(ctx context.Context, coordinatorID int64, since time.Time) ([]models.Feedback, error) {
	rows, err := g.db.QueryContext(ctx, g.bind(`SELECT `+feedbackColumns+` FROM feedback
		WHERE coordinator_id = ? AND created_at >= ? ORDER BY id`), coordinatorID, since.UTC())
	if err != nil {
		slog.Error(g.name+".ListFeedback query failed", "error", err, "coordinatorID", coordinatorID)
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()
	var out []models.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback rows: %w", err)
	}
	return out, nil
}

func (g *sqlGateway) UpdateFeedbackStatus(ctx context.Context, id int64, status models.FeedbackStatus) error {
	var current string
	err := g.db.QueryRowContext(ctx, g.bind(`SELECT status FROM feedback WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("feedback %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read feedback %d: %w", id, err)
	}
	if err := models.CheckFeedbackTransition(models.FeedbackStatus(current), status); err != nil {
		return err
	}
	// Guard on the observed status so a concurrent change cannot be overwritten.
	return g.compareAndSetStatus(ctx, "feedback", id, current, string(status))
}

const diaryColumns = `id, coordinator_id, agent_id, title, scheduled_date, scheduled_time, status, notes, created_at`

func (g *sqlGateway) CreateDiaryEntry(ctx context.Context, e models.DiaryEntry) (models.DiaryEntry, error) {
	if e.Status == "" {
		e.Status = models.DiaryScheduled
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	err := g.db.QueryRowContext(ctx, g.bind(`
		INSERT INTO diary_entries (coordinator_id, agent_id, title, scheduled_date, scheduled_time, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		e.CoordinatorID, nullInt(e.AgentID), e.Title, e.ScheduledDate.UTC(), e.ScheduledTime, string(e.Status), e.Notes, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		slog.Error(g.name+".CreateDiaryEntry failed", "error", err, "coordinatorID", e.CoordinatorID)
		return models.DiaryEntry{}, fmt.Errorf("failed to create diary entry: %w", err)
	}
	return e, nil
}

func (g *sqlGateway) GetDiaryEntries(ctx context.Context, coordinatorID int64, onOrAfter, onOrBefore time.Time) ([]models.DiaryEntry, error) {
	query := `SELECT ` + diaryColumns + ` FROM diary_entries WHERE coordinator_id = ? AND scheduled_date <= ?`
	args := []any{coordinatorID, onOrBefore.UTC()}
	if !onOrAfter.IsZero() {
		query += ` AND scheduled_date >= ?`
		args = append(args, onOrAfter.UTC())
	}
	query += ` ORDER BY scheduled_date, scheduled_time, id`
	rows, err := g.db.QueryContext(ctx, g.bind(query), args...)
	if err != nil {
		slog.Error(g.name+".GetDiaryEntries query failed", "error", err, "coordinatorID", coordinatorID)
		return nil, fmt.Errorf("failed to query diary entries: %w", err)
	}
	defer rows.Close()
	var out []models.DiaryEntry
	for rows.Next() {
		e, err := scanDiaryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diary row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate diary rows: %w", err)
	}
	return out, nil
}

func (g *sqlGateway) UpdateDiaryStatus(ctx context.Context, id int64, status models.DiaryStatus) error {
	var current string
	err := g.db.QueryRowContext(ctx, g.bind(`SELECT status FROM diary_entries WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("diary entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read diary entry %d: %w", id, err)
	}
	if err := models.CheckDiaryTransition(models.DiaryStatus(current), status); err != nil {
		return err
	}
	return g.compareAndSetStatus(ctx, "diary_entries", id, current, string(status))
}

func (g *sqlGateway) compareAndSetStatus(ctx context.Context, table string, id int64, from, to string) error {
	result, err := g.db.ExecContext(ctx, g.bind(`UPDATE `+table+` SET status = ? WHERE id = ? AND status = ?`), to, id, from)
	if err != nil {
		slog.Error(g.name+" status update failed", "error", err, "table", table, "id", id)
		return fmt.Errorf("failed to update %s %d: %w", table, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of %s %d: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d changed concurrently from %s: %w", table, id, from, models.ErrIllegalTransition)
	}
	return nil
}

const trainingColumns = `id, coordinator_id, product_id, product_name, quiz_score, completed, completed_at, updated_at`

func (g *sqlGateway) UpsertTrainingRecord(ctx context.Context, in models.TrainingUpsert) (models.TrainingRecord, error) {
	now := time.Now().UTC()
	_, err := g.db.ExecContext(ctx, g.bind(`
		INSERT INTO training_records (coordinator_id, product_id, product_name, quiz_score, completed, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (coordinator_id, product_id) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			quiz_score = EXCLUDED.quiz_score,
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`),
		in.CoordinatorID, in.ProductID, in.ProductName, in.QuizScore, in.Completed, nullTime(in.CompletedAt), now)
	if err != nil {
		slog.Error(g.name+".UpsertTrainingRecord failed", "error", err, "coordinatorID", in.CoordinatorID, "productID", in.ProductID)
		return models.TrainingRecord{}, fmt.Errorf("failed to upsert training record: %w", err)
	}
	// Re-read rather than RETURNING so timestamp columns carry their declared types.
	row := g.db.QueryRowContext(ctx, g.bind(`SELECT `+trainingColumns+` FROM training_records WHERE coordinator_id = ? AND product_id = ?`),
		in.CoordinatorID, in.ProductID)
	r, err := scanTrainingRecord(row)
	if err != nil {
		return models.TrainingRecord{}, fmt.Errorf("failed to read training record: %w", err)
	}
	slog.Debug(g.name+".UpsertTrainingRecord succeeded", "coordinatorID", in.CoordinatorID, "productID", in.ProductID, "completed", in.Completed)
	return r, nil
}

func (g *sqlGateway) ListTrainingRecords(ctx context.Context, coordinatorID int64) ([]models.TrainingRecord, error) {
	rows, err := g.db.QueryContext(ctx, g.bind(`SELECT `+trainingColumns+` FROM training_records WHERE coordinator_id = ? ORDER BY id`), coordinatorID)
	if err != nil {
		slog.Error(g.name+".ListTrainingRecords query failed", "error", err, "coordinatorID", coordinatorID)
		return nil, fmt.Errorf("failed to query training records: %w", err)
	}
	defer rows.Close()
	var out []models.TrainingRecord
	for rows.Next() {
		r, err := scanTrainingRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan training row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate training rows: %w", err)
	}
	return out, nil
}

func (g *sqlGateway) ListProductCategories(ctx context.Context) ([]models.ProductCategory, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT key, label FROM product_categories ORDER BY position, key`)
	if err != nil {
		slog.Error(g.name+".ListProductCategories query failed", "error", err)
		return nil, fmt.Errorf("failed to query product categories: %w", err)
	}
	defer rows.Close()
	var out []models.ProductCategory
	for rows.Next() {
		var c models.ProductCategory
		if err := rows.Scan(&c.Key, &c.Label); err != nil {
			return nil, fmt.Errorf("failed to scan product category row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product category rows: %w", err)
	}
	return out, nil
}

func (g *sqlGateway) ListProducts(ctx context.Context, category string) ([]models.Product, error) {
	rows, err := g.db.QueryContext(ctx, g.bind(`SELECT id, name, category FROM products WHERE category = ? ORDER BY position, id`), category)
	if err != nil {
		slog.Error(g.name+".ListProducts query failed", "error", err, "category", category)
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()
	var out []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product rows: %w", err)
	}
	return out, nil
}

func (g *sqlGateway) SaveProductCategory(ctx context.Context, c models.ProductCategory) error {
	_, err := g.db.ExecContext(ctx, g.bind(`
		INSERT INTO product_categories (key, label, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM product_categories))
		ON CONFLICT (key) DO UPDATE SET label = EXCLUDED.label`),
		c.Key, c.Label)
	if err != nil {
		slog.Error(g.name+".SaveProductCategory failed", "error", err, "key", c.Key)
		return fmt.Errorf("failed to save product category %s: %w", c.Key, err)
	}
	return nil
}

func (g *sqlGateway) SaveProduct(ctx context.Context, p models.Product) error {
	_, err := g.db.ExecContext(ctx, g.bind(`
		INSERT INTO products (id, name, category, position)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM products))
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category`),
		p.ID, p.Name, p.Category)
	if err != nil {
		slog.Error(g.name+".SaveProduct failed", "error", err, "productID", p.ID)
		return fmt.Errorf("failed to save product %s: %w", p.ID, err)
	}
	return nil
}

// SaveFlowState stores or updates the session for a conversant.
func (g *sqlGateway) SaveFlowState(ctx context.Context, state models.FlowState) error {
	_, err := g.db.ExecContext(ctx, g.bind(`
		INSERT INTO flow_states (conversant_id, session_id, flow_type, current_state, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversant_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			flow_type = EXCLUDED.flow_type,
			current_state = EXCLUDED.current_state,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`),
		state.ConversantID, state.SessionID, string(state.FlowType), string(state.CurrentState), state.Payload,
		state.CreatedAt.UTC(), state.UpdatedAt.UTC())
	if err != nil {
		slog.Error(g.name+".SaveFlowState failed", "error", err, "conversantID", state.ConversantID, "flowType", state.FlowType)
		return fmt.Errorf("failed to save flow state for %s: %w", state.ConversantID, err)
	}
	slog.Debug(g.name+".SaveFlowState succeeded", "conversantID", state.ConversantID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves the session for a conversant.
func (g *sqlGateway) GetFlowState(ctx context.Context, conversantID string) (*models.FlowState, error) {
	var st models.FlowState
	var flowType, current string
	err := g.db.QueryRowContext(ctx, g.bind(`SELECT conversant_id, session_id, flow_type, current_state, payload, created_at, updated_at
		FROM flow_states WHERE conversant_id = ?`), conversantID).Scan(
		&st.ConversantID, &st.SessionID, &flowType, &current, &st.Payload, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(g.name+".GetFlowState not found", "conversantID", conversantID)
		return nil, nil
	}
	if err != nil {
		slog.Error(g.name+".GetFlowState failed", "error", err, "conversantID", conversantID)
		return nil, fmt.Errorf("failed to get flow state for %s: %w", conversantID, err)
	}
	st.FlowType = models.FlowType(flowType)
	st.CurrentState = models.StateType(current)
	return &st, nil
}

// DeleteFlowState removes the session for a conversant.
func (g *sqlGateway) DeleteFlowState(ctx context.Context, conversantID string) error {
	_, err := g.db.ExecContext(ctx, g.bind(`DELETE FROM flow_states WHERE conversant_id = ?`), conversantID)
	if err != nil {
		slog.Error(g.name+".DeleteFlowState failed", "error", err, "conversantID", conversantID)
		return fmt.Errorf("failed to delete flow state for %s: %w", conversantID, err)
	}
	slog.Debug(g.name+".DeleteFlowState succeeded", "conversantID", conversantID)
	return nil
}

// DeleteFlowStatesBefore removes sessions last updated at or before cutoff.
func (g *sqlGateway) DeleteFlowStatesBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, g.bind(`DELETE FROM flow_states WHERE updated_at <= ? RETURNING conversant_id`), cutoff.UTC())
	if err != nil {
		slog.Error(g.name+".DeleteFlowStatesBefore failed", "error", err)
		return nil, fmt.Errorf("failed to evict flow states: %w", err)
	}
	defer rows.Close()
	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan evicted conversant: %w", err)
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evicted conversants: %w", err)
	}
	return removed, nil
}
