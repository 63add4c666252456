package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a referenced record does not exist (or is not
// owned by the given user).
var ErrNotFound = errors.New("record not found")

// ModifiedSet is the result of the modified-since query used by the
// snapshot-diff reconciliation fallback.
type ModifiedSet struct {
	Episodes     []*Episode
	Appointments []*Appointment
	Assessments  []*Assessment
}

type Store interface {
	GetSymptom(ctx context.Context, id uuid.UUID) (*Symptom, error)
	SymptomByName(ctx context.Context, userID uuid.UUID, name string) (*Symptom, error)
	SymptomsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Symptom, error)
	SaveSymptom(ctx context.Context, s *Symptom) error

	GetEpisode(ctx context.Context, id uuid.UUID) (*Episode, error)
	ActiveEpisodesSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*Episode, error)
	EpisodesBySymptomName(ctx context.Context, userID uuid.UUID, name string) ([]*Episode, error)
	SaveEpisode(ctx context.Context, e *Episode) error

	NegativeFindingsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*NegativeFinding, error)
	SaveNegativeFinding(ctx context.Context, f *NegativeFinding) error

	GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error)
	AssessmentByConversation(ctx context.Context, conversationID uuid.UUID) (*Assessment, error)
	SaveAssessment(ctx context.Context, a *Assessment) error

	AppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]*Appointment, error)
	SaveAppointment(ctx context.Context, a *Appointment) error

	ModifiedSince(ctx context.Context, userID uuid.UUID, since time.Time) (*ModifiedSet, error)
}

type postgresStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) GetSymptom(ctx context.Context, id uuid.UUID) (*Symptom, error) {
	query := `SELECT id, user_id, name, description, created_at FROM symptoms WHERE id = $1`

	var sym Symptom
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sym.ID, &sym.UserID, &sym.Name, &sym.Description, &sym.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("symptom %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &sym, nil
}

func (s *postgresStore) SymptomByName(ctx context.Context, userID uuid.UUID, name string) (*Symptom, error) {
	query := `SELECT id, user_id, name, description, created_at FROM symptoms WHERE user_id = $1 AND lower(name) = lower($2)`

	var sym Symptom
	err := s.db.QueryRowContext(ctx, query, userID, name).Scan(
		&sym.ID, &sym.UserID, &sym.Name, &sym.Description, &sym.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("symptom %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &sym, nil
}

func (s *postgresStore) SymptomsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Symptom, error) {
	out := make(map[uuid.UUID]*Symptom, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// Small id sets per user; a per-id lookup keeps the SQL trivial.
	for _, id := range ids {
		sym, err := s.GetSymptom(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = sym
	}
	return out, nil
}

func (s *postgresStore) SaveSymptom(ctx context.Context, sym *Symptom) error {
	if sym.CreatedAt.IsZero() {
		sym.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO symptoms (id, user_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET description = $4
	`
	_, err := s.db.ExecContext(ctx, query, sym.ID, sym.UserID, sym.Name, sym.Description, sym.CreatedAt)
	return err
}

const episodeColumns = `id, symptom_id, user_id, stage, status, started_at, resolved_at,
	severity, location, frequency, triggers, relievers, pattern, timeline, related_episode_id,
	created_at, updated_at`

func scanEpisode(row interface{ Scan(...any) error }) (*Episode, error) {
	var e Episode
	var triggersJSON, relieversJSON, timelineJSON []byte
	err := row.Scan(
		&e.ID, &e.SymptomID, &e.UserID, &e.Stage, &e.Status, &e.StartedAt, &e.ResolvedAt,
		&e.Severity, &e.Location, &e.Frequency, &triggersJSON, &relieversJSON, &e.Pattern,
		&timelineJSON, &e.RelatedEpisodeID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(triggersJSON) > 0 {
		if err := json.Unmarshal(triggersJSON, &e.Triggers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal triggers: %w", err)
		}
	}
	if len(relieversJSON) > 0 {
		if err := json.Unmarshal(relieversJSON, &e.Relievers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal relievers: %w", err)
		}
	}
	if len(timelineJSON) > 0 {
		if err := json.Unmarshal(timelineJSON, &e.Timeline); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timeline: %w", err)
		}
	}
	return &e, nil
}

func (s *postgresStore) GetEpisode(ctx context.Context, id uuid.UUID) (*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE id = $1`
	e, err := scanEpisode(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("episode %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return e, nil
}

func (s *postgresStore) queryEpisodes(ctx context.Context, query string, args ...any) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *postgresStore) ActiveEpisodesSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes
		WHERE user_id = $1 AND status = 'active' AND started_at >= $2
		ORDER BY started_at DESC`
	return s.queryEpisodes(ctx, query, userID, since)
}

func (s *postgresStore) EpisodesBySymptomName(ctx context.Context, userID uuid.UUID, name string) ([]*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes e
		WHERE e.user_id = $1 AND e.symptom_id IN (
			SELECT id FROM symptoms WHERE user_id = $1 AND lower(name) = lower($2)
		)
		ORDER BY e.started_at DESC`
	return s.queryEpisodes(ctx, query, userID, name)
}

func (s *postgresStore) SaveEpisode(ctx context.Context, e *Episode) error {
	triggersJSON, err := json.Marshal(e.Triggers)
	if err != nil {
		return err
	}
	relieversJSON, err := json.Marshal(e.Relievers)
	if err != nil {
		return err
	}
	timelineJSON, err := json.Marshal(e.Timeline)
	if err != nil {
		return err
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = time.Now()

	query := `
		INSERT INTO episodes (` + episodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			stage = $4,
			status = $5,
			resolved_at = $7,
			severity = $8,
			location = $9,
			frequency = $10,
			triggers = $11,
			relievers = $12,
			pattern = $13,
			timeline = $14,
			related_episode_id = $15,
			updated_at = $17
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.SymptomID, e.UserID, e.Stage, e.Status, e.StartedAt, e.ResolvedAt,
		e.Severity, e.Location, e.Frequency, triggersJSON, relieversJSON, e.Pattern,
		timelineJSON, e.RelatedEpisodeID, e.CreatedAt, e.UpdatedAt)
	return err
}

func (s *postgresStore) NegativeFindingsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*NegativeFinding, error) {
	query := `SELECT id, user_id, symptom_name, episode_id, reported_at FROM negative_findings
		WHERE user_id = $1 AND reported_at >= $2
		ORDER BY reported_at DESC`
	rows, err := s.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NegativeFinding
	for rows.Next() {
		var f NegativeFinding
		if err := rows.Scan(&f.ID, &f.UserID, &f.SymptomName, &f.EpisodeID, &f.ReportedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *postgresStore) SaveNegativeFinding(ctx context.Context, f *NegativeFinding) error {
	if f.ReportedAt.IsZero() {
		f.ReportedAt = time.Now()
	}
	query := `INSERT INTO negative_findings (id, user_id, symptom_name, episode_id, reported_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query, f.ID, f.UserID, f.SymptomName, f.EpisodeID, f.ReportedAt)
	return err
}

const assessmentColumns = `id, user_id, conversation_id, hypothesis, confidence, differentials,
	reasoning, recommended_action, negative_finding_ids, created_at, updated_at`

func (s *postgresStore) scanAssessment(ctx context.Context, row interface{ Scan(...any) error }) (*Assessment, error) {
	var a Assessment
	var diffJSON, nfJSON []byte
	err := row.Scan(
		&a.ID, &a.UserID, &a.ConversationID, &a.Hypothesis, &a.Confidence, &diffJSON,
		&a.Reasoning, &a.RecommendedAction, &nfJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(diffJSON) > 0 {
		if err := json.Unmarshal(diffJSON, &a.Differentials); err != nil {
			return nil, fmt.Errorf("failed to unmarshal differentials: %w", err)
		}
	}
	if len(nfJSON) > 0 {
		if err := json.Unmarshal(nfJSON, &a.NegativeFindingIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal negative finding ids: %w", err)
		}
	}

	links, err := s.assessmentLinks(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.EpisodeLinks = links
	return &a, nil
}

func (s *postgresStore) assessmentLinks(ctx context.Context, assessmentID uuid.UUID) ([]AssessmentEpisodeLink, error) {
	query := `SELECT assessment_id, episode_id, weight, reasoning FROM assessment_episode_links
		WHERE assessment_id = $1`
	rows, err := s.db.QueryContext(ctx, query, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssessmentEpisodeLink
	for rows.Next() {
		var l AssessmentEpisodeLink
		if err := rows.Scan(&l.AssessmentID, &l.EpisodeID, &l.Weight, &l.Reasoning); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *postgresStore) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE id = $1`
	a, err := s.scanAssessment(ctx, s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

func (s *postgresStore) AssessmentByConversation(ctx context.Context, conversationID uuid.UUID) (*Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments
		WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT 1`
	a, err := s.scanAssessment(ctx, s.db.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("assessment for conversation %s: %w", conversationID, ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

func (s *postgresStore) SaveAssessment(ctx context.Context, a *Assessment) error {
	diffJSON, err := json.Marshal(a.Differentials)
	if err != nil {
		return err
	}
	nfJSON, err := json.Marshal(a.NegativeFindingIDs)
	if err != nil {
		return err
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.UpdatedAt = time.Now()

	query := `
		INSERT INTO assessments (` + assessmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			hypothesis = $4,
			confidence = $5,
			differentials = $6,
			reasoning = $7,
			recommended_action = $8,
			negative_finding_ids = $9,
			updated_at = $11
	`
	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.ConversationID, a.Hypothesis, a.Confidence, diffJSON,
		a.Reasoning, a.RecommendedAction, nfJSON, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return err
	}

	// Links are replaced wholesale; the set is small.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assessment_episode_links WHERE assessment_id = $1`, a.ID); err != nil {
		return err
	}
	for _, l := range a.EpisodeLinks {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO assessment_episode_links (assessment_id, episode_id, weight, reasoning) VALUES ($1, $2, $3, $4)`,
			a.ID, l.EpisodeID, ClampWeight(l.Weight), l.Reasoning)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) AppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]*Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, reason, scheduled_for, status, created_at, updated_at
		 FROM appointments WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.UserID, &a.ConversationID, &a.Reason, &a.ScheduledFor, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *postgresStore) SaveAppointment(ctx context.Context, a *Appointment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.UpdatedAt = time.Now()
	query := `
		INSERT INTO appointments (id, user_id, conversation_id, reason, scheduled_for, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			reason = $4,
			scheduled_for = $5,
			status = $6,
			updated_at = $8
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.ConversationID, a.Reason, a.ScheduledFor, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

// ModifiedSince backs the diff-fallback reconciliation: everything of the
// user's touched after the given instant.
func (s *postgresStore) ModifiedSince(ctx context.Context, userID uuid.UUID, since time.Time) (*ModifiedSet, error) {
	set := &ModifiedSet{}

	episodes, err := s.queryEpisodes(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE user_id = $1 AND (created_at >= $2 OR updated_at >= $2)`,
		userID, since)
	if err != nil {
		return nil, err
	}
	set.Episodes = episodes

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, reason, scheduled_for, status, created_at, updated_at
		 FROM appointments WHERE user_id = $1 AND (created_at >= $2 OR updated_at >= $2)`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.UserID, &a.ConversationID, &a.Reason, &a.ScheduledFor, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		set.Appointments = append(set.Appointments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := s.db.QueryContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE user_id = $1 AND (created_at >= $2 OR updated_at >= $2)`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		a, err := s.scanAssessment(ctx, arows)
		if err != nil {
			return nil, err
		}
		set.Assessments = append(set.Assessments, a)
	}
	return set, arows.Err()
}
