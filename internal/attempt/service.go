package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"examprep/internal/catalog"
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusTimeout    = "timeout"
)

var (
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrSlotNotFound       = errors.New("question not part of attempt")
	ErrNotInProgress      = errors.New("attempt is not in progress")
	ErrTimeExpired        = errors.New("attempt time expired")
	ErrNoQuestions        = errors.New("no questions available")
	ErrResultNotAvailable = errors.New("result not available until the attempt is finished")
	ErrInvalidInput       = errors.New("invalid input")
)

type catalogReader interface {
	GetActiveTest(ctx context.Context, testID int64) (*catalog.Test, error)
	EligibleQuestions(ctx context.Context, categoryIDs []int64) ([]catalog.Question, error)
}

// Service owns the attempt aggregate: the attempt row plus its fixed
// set of answer slots. Every mutating operation runs against a single
// transactional boundary, and terminal transitions are compare-and-set
// on (id, status) so concurrent finishes cannot both commit.
type Service struct {
	db  *sql.DB
	cat catalogReader
}

func NewService(db *sql.DB, cat catalogReader) *Service {
	return &Service{db: db, cat: cat}
}

type StartResult struct {
	AttemptID        int64 `json:"attempt_id"`
	QuestionsCount   int   `json:"questions_count"`
	TimeLimitMinutes int   `json:"time_limit_minutes"`
	Resumed          bool  `json:"resumed"`
}

type SaveAnswerInput struct {
	AttemptID  int64
	UserID     int64
	QuestionID int64
	AnswerIDs  []int64
	TextAnswer string
}

type FinishResult struct {
	Score        int64 `json:"score"`
	MaxScore     int64 `json:"max_score"`
	Percentage   int   `json:"percentage"`
	Passed       bool  `json:"passed"`
	PassingScore int   `json:"passing_score"`
}

type AnswerOption struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type UserAnswerView struct {
	SelectedAnswerIDs []int64 `json:"selected_answer_ids"`
	TextAnswer        string  `json:"text_answer"`
}

type QuestionView struct {
	ID         int64          `json:"id"`
	Text       string         `json:"text"`
	Type       string         `json:"type"`
	Points     int64          `json:"points"`
	Answers    []AnswerOption `json:"answers"`
	UserAnswer UserAnswerView `json:"user_answer"`
}

type AttemptQuestions struct {
	AttemptID            int64          `json:"attempt_id"`
	TestTitle            string         `json:"test_title"`
	Questions            []QuestionView `json:"questions"`
	TimeRemainingSeconds *int64         `json:"time_remaining_seconds"`
}

type ReviewOption struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type ReviewItem struct {
	QuestionID        int64          `json:"question_id"`
	Text              string         `json:"text"`
	Type              string         `json:"type"`
	Points            int64          `json:"points"`
	Explanation       string         `json:"explanation"`
	Answers           []ReviewOption `json:"answers"`
	SelectedAnswerIDs []int64        `json:"selected_answer_ids"`
	TextAnswer        string         `json:"text_answer"`
	IsCorrect         bool           `json:"is_correct"`
	PointsEarned      int64          `json:"points_earned"`
}

type AttemptSummary struct {
	ID           int64      `json:"id"`
	TestID       int64      `json:"test_id"`
	TestTitle    string     `json:"test_title"`
	Status       string     `json:"status"`
	Score        int64      `json:"score"`
	MaxScore     int64      `json:"max_score"`
	Percentage   int        `json:"percentage"`
	Passed       bool       `json:"passed"`
	PassingScore int        `json:"passing_score"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type AttemptReview struct {
	Summary AttemptSummary `json:"summary"`
	Items   []ReviewItem   `json:"items"`
}

type attemptRow struct {
	ID                  int64
	UserID              int64
	TestID              int64
	Status              string
	Score               int64
	MaxScore            int64
	StartedAt           int64
	FinishedAt          sql.NullInt64
	TestTitle           string
	TimeLimitMinutes    int
	PassingScorePercent int
}

// StartAttempt resumes the caller's in-progress attempt for the test,
// or samples a fresh question set and creates one. Creation is
// serialized by the partial unique index on (user_id, test_id,
// status='in_progress'): the loser of a racing insert re-reads and
// resumes the winner's attempt.
func (s *Service) StartAttempt(ctx context.Context, userID, testID int64) (*StartResult, error) {
	test, err := s.cat.GetActiveTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	if res, ok, err := s.resumeInProgress(ctx, userID, testID, test.TimeLimitMinutes); err != nil {
		return nil, err
	} else if ok {
		return res, nil
	}

	pool, err := s.cat.EligibleQuestions(ctx, test.CategoryIDs)
	if err != nil {
		return nil, err
	}
	sample := SampleQuestions(pool, test.QuestionCount)
	if len(sample) == 0 {
		return nil, ErrNoQuestions
	}

	var maxScore int64
	for _, q := range sample {
		maxScore += q.Points
	}

	attemptID, err := s.createAttempt(ctx, userID, testID, maxScore, sample)
	if err != nil {
		// A concurrent start may have won the unique index race;
		// resume its attempt instead of surfacing the conflict.
		if res, ok, resumeErr := s.resumeInProgress(ctx, userID, testID, test.TimeLimitMinutes); resumeErr == nil && ok {
			return res, nil
		}
		return nil, err
	}

	return &StartResult{
		AttemptID:        attemptID,
		QuestionsCount:   len(sample),
		TimeLimitMinutes: test.TimeLimitMinutes,
	}, nil
}

func (s *Service) resumeInProgress(ctx context.Context, userID, testID int64, timeLimitMinutes int) (*StartResult, bool, error) {
	var attemptID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id
		FROM attempts
		WHERE user_id = $1 AND test_id = $2 AND status = 'in_progress'
	`, userID, testID).Scan(&attemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query existing attempt: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM attempt_answers
		WHERE attempt_id = $1
	`, attemptID).Scan(&count); err != nil {
		return nil, false, fmt.Errorf("count attempt slots: %w", err)
	}

	return &StartResult{
		AttemptID:        attemptID,
		QuestionsCount:   count,
		TimeLimitMinutes: timeLimitMinutes,
		Resumed:          true,
	}, true, nil
}

func (s *Service) createAttempt(ctx context.Context, userID, testID, maxScore int64, sample []catalog.Question) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin start tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	var attemptID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO attempts (user_id, test_id, status, score, max_score, started_at)
		VALUES ($1, $2, 'in_progress', 0, $3, $4)
		RETURNING id
	`, userID, testID, maxScore, now).Scan(&attemptID); err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}

	for _, q := range sample {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempt_answers (attempt_id, question_id, selected_ids_json, text_answer, updated_at)
			VALUES ($1, $2, '[]', '', $3)
		`, attemptID, q.ID, now); err != nil {
			return 0, fmt.Errorf("insert attempt slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit start: %w", err)
	}
	return attemptID, nil
}

// GetAttemptQuestions returns the fixed question set with the caller's
// saved answers. Reading is also the timeout trigger: an expired
// attempt transitions to timeout here and the read fails.
func (s *Service) GetAttemptQuestions(ctx context.Context, attemptID, userID int64) (*AttemptQuestions, error) {
	row, err := s.loadAttemptRow(ctx, s.db, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.guardInProgress(ctx, row); err != nil {
		return nil, err
	}

	slots, err := s.loadSlots(ctx, s.db, attemptID)
	if err != nil {
		return nil, err
	}

	questions := make([]QuestionView, 0, len(slots))
	for _, slot := range slots {
		options := make([]AnswerOption, 0, len(slot.Question.Answers))
		for _, a := range slot.Question.Answers {
			options = append(options, AnswerOption{ID: a.ID, Text: a.Text})
		}
		questions = append(questions, QuestionView{
			ID:      slot.Question.ID,
			Text:    slot.Question.Text,
			Type:    slot.Question.Type,
			Points:  slot.Question.Points,
			Answers: options,
			UserAnswer: UserAnswerView{
				SelectedAnswerIDs: slot.SelectedIDs,
				TextAnswer:        slot.TextAnswer,
			},
		})
	}

	return &AttemptQuestions{
		AttemptID:            row.ID,
		TestTitle:            row.TestTitle,
		Questions:            questions,
		TimeRemainingSeconds: remainingSeconds(row),
	}, nil
}

// SaveAnswer replaces the slot's selection wholesale; last write wins.
// Correctness is not computed here.
func (s *Service) SaveAnswer(ctx context.Context, in SaveAnswerInput) error {
	for _, id := range in.AnswerIDs {
		if id <= 0 {
			return ErrInvalidInput
		}
	}

	row, err := s.loadAttemptRow(ctx, s.db, in.AttemptID, in.UserID)
	if err != nil {
		return err
	}
	if err := s.guardInProgress(ctx, row); err != nil {
		return err
	}

	selectedJSON, err := json.Marshal(normalizeIDSet(in.AnswerIDs))
	if err != nil {
		return fmt.Errorf("encode selected ids: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE attempt_answers
		SET selected_ids_json = $1,
			text_answer = $2,
			updated_at = $3
		WHERE attempt_id = $4 AND question_id = $5
	`, string(selectedJSON), in.TextAnswer, time.Now().Unix(), in.AttemptID, in.QuestionID)
	if err != nil {
		return fmt.Errorf("update attempt slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update attempt slot result: %w", err)
	}
	if affected == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// FinishAttempt grades every slot and finalizes the attempt. The
// completed transition is compare-and-set on status, so a second
// finish, however concurrent, fails and never rescores.
func (s *Service) FinishAttempt(ctx context.Context, attemptID, userID int64) (*FinishResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := s.loadAttemptRow(ctx, tx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}
	if expired(row) {
		if err := s.markTimeout(ctx, tx, row.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit timeout: %w", err)
		}
		return nil, ErrTimeExpired
	}

	slots, err := s.loadSlots(ctx, tx, attemptID)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	var total int64
	for _, slot := range slots {
		score := ScoreSlot(slot.Question, SlotAnswer{
			SelectedIDs: slot.SelectedIDs,
			TextAnswer:  slot.TextAnswer,
		})
		total += score.PointsEarned
		if _, err := tx.ExecContext(ctx, `
			UPDATE attempt_answers
			SET is_correct = $1,
				points_earned = $2,
				updated_at = $3
			WHERE id = $4
		`, score.IsCorrect, score.PointsEarned, now, slot.ID); err != nil {
			return nil, fmt.Errorf("store slot score: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE attempts
		SET status = 'completed',
			score = $1,
			finished_at = $2
		WHERE id = $3 AND status = 'in_progress'
	`, total, now, attemptID)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("finalize attempt result: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotInProgress
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finish: %w", err)
	}

	percentage := Percentage(total, row.MaxScore)
	return &FinishResult{
		Score:        total,
		MaxScore:     row.MaxScore,
		Percentage:   percentage,
		Passed:       percentage >= row.PassingScorePercent,
		PassingScore: row.PassingScorePercent,
	}, nil
}

// GetAttemptReview assembles the full post-completion view. It refuses
// while the attempt is still running; a stale expired attempt first
// transitions to timeout and is then served as stored (unscored).
func (s *Service) GetAttemptReview(ctx context.Context, attemptID, userID int64) (*AttemptReview, error) {
	row, err := s.loadAttemptRow(ctx, s.db, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if row.Status == StatusInProgress {
		if !expired(row) {
			return nil, ErrResultNotAvailable
		}
		if err := s.markTimeout(ctx, s.db, row.ID); err != nil {
			return nil, err
		}
		row, err = s.loadAttemptRow(ctx, s.db, attemptID, userID)
		if err != nil {
			return nil, err
		}
	}

	slots, err := s.loadSlots(ctx, s.db, attemptID)
	if err != nil {
		return nil, err
	}

	items := make([]ReviewItem, 0, len(slots))
	for _, slot := range slots {
		options := make([]ReviewOption, 0, len(slot.Question.Answers))
		for _, a := range slot.Question.Answers {
			options = append(options, ReviewOption{ID: a.ID, Text: a.Text, IsCorrect: a.IsCorrect})
		}
		items = append(items, ReviewItem{
			QuestionID:        slot.Question.ID,
			Text:              slot.Question.Text,
			Type:              slot.Question.Type,
			Points:            slot.Question.Points,
			Explanation:       slot.Question.Explanation,
			Answers:           options,
			SelectedAnswerIDs: slot.SelectedIDs,
			TextAnswer:        slot.TextAnswer,
			IsCorrect:         slot.IsCorrect,
			PointsEarned:      slot.PointsEarned,
		})
	}

	return &AttemptReview{
		Summary: summaryFromRow(row),
		Items:   items,
	}, nil
}

func (s *Service) ListAttempts(ctx context.Context, userID int64) ([]AttemptSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			a.id, a.user_id, a.test_id, a.status, a.score, a.max_score,
			a.started_at, a.finished_at,
			t.title, t.time_limit_minutes, t.passing_score_percent
		FROM attempts a
		JOIN tests t ON t.id = a.test_id
		WHERE a.user_id = $1
		ORDER BY a.started_at DESC, a.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]AttemptSummary, 0)
	for rows.Next() {
		var row attemptRow
		if err := rows.Scan(
			&row.ID, &row.UserID, &row.TestID, &row.Status, &row.Score, &row.MaxScore,
			&row.StartedAt, &row.FinishedAt,
			&row.TestTitle, &row.TimeLimitMinutes, &row.PassingScorePercent,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, summaryFromRow(&row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// guardInProgress rejects terminal attempts and performs the lazy
// timeout transition on expired ones.
func (s *Service) guardInProgress(ctx context.Context, row *attemptRow) error {
	if row.Status != StatusInProgress {
		return ErrNotInProgress
	}
	if expired(row) {
		if err := s.markTimeout(ctx, s.db, row.ID); err != nil {
			return err
		}
		return ErrTimeExpired
	}
	return nil
}

// markTimeout is a compare-and-set: it only fires if the attempt is
// still in_progress, so it never clobbers a concurrent finish.
func (s *Service) markTimeout(ctx context.Context, q execer, attemptID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE attempts
		SET status = 'timeout',
			finished_at = $1
		WHERE id = $2 AND status = 'in_progress'
	`, time.Now().Unix(), attemptID)
	if err != nil {
		return fmt.Errorf("mark timeout: %w", err)
	}
	return nil
}

func (s *Service) loadAttemptRow(ctx context.Context, q queryable, attemptID, userID int64) (*attemptRow, error) {
	row := &attemptRow{}
	err := q.QueryRowContext(ctx, `
		SELECT
			a.id, a.user_id, a.test_id, a.status, a.score, a.max_score,
			a.started_at, a.finished_at,
			t.title, t.time_limit_minutes, t.passing_score_percent
		FROM attempts a
		JOIN tests t ON t.id = a.test_id
		WHERE a.id = $1 AND a.user_id = $2
	`, attemptID, userID).Scan(
		&row.ID, &row.UserID, &row.TestID, &row.Status, &row.Score, &row.MaxScore,
		&row.StartedAt, &row.FinishedAt,
		&row.TestTitle, &row.TimeLimitMinutes, &row.PassingScorePercent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Foreign attempts are indistinguishable from missing ones.
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return row, nil
}

type slotRow struct {
	ID           int64
	Question     catalog.Question
	SelectedIDs  []int64
	TextAnswer   string
	IsCorrect    bool
	PointsEarned int64
}

func (s *Service) loadSlots(ctx context.Context, q queryable, attemptID int64) ([]slotRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			aa.id, aa.selected_ids_json, aa.text_answer, aa.is_correct, aa.points_earned,
			qu.id, qu.category_id, qu.question_text, qu.question_type, qu.points, qu.explanation
		FROM attempt_answers aa
		JOIN questions qu ON qu.id = aa.question_id
		WHERE aa.attempt_id = $1
		ORDER BY aa.id
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query attempt slots: %w", err)
	}
	defer rows.Close()

	slots := make([]slotRow, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var (
			slot         slotRow
			selectedJSON string
		)
		if err := rows.Scan(
			&slot.ID, &selectedJSON, &slot.TextAnswer, &slot.IsCorrect, &slot.PointsEarned,
			&slot.Question.ID, &slot.Question.CategoryID, &slot.Question.Text,
			&slot.Question.Type, &slot.Question.Points, &slot.Question.Explanation,
		); err != nil {
			return nil, fmt.Errorf("scan attempt slot: %w", err)
		}
		if selectedJSON != "" {
			if err := json.Unmarshal([]byte(selectedJSON), &slot.SelectedIDs); err != nil {
				return nil, fmt.Errorf("decode selected ids: %w", err)
			}
		}
		if slot.SelectedIDs == nil {
			slot.SelectedIDs = []int64{}
		}
		index[slot.Question.ID] = len(slots)
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt slots: %w", err)
	}
	if len(slots) == 0 {
		return slots, nil
	}

	answers, err := s.loadSlotAnswers(ctx, q, attemptID)
	if err != nil {
		return nil, err
	}
	for _, a := range answers {
		i, ok := index[a.QuestionID]
		if !ok {
			continue
		}
		slots[i].Question.Answers = append(slots[i].Question.Answers, a)
	}
	return slots, nil
}

func (s *Service) loadSlotAnswers(ctx context.Context, q queryable, attemptID int64) ([]catalog.Answer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT an.id, an.question_id, an.answer_text, an.is_correct, an.display_order
		FROM answers an
		JOIN attempt_answers aa ON aa.question_id = an.question_id
		WHERE aa.attempt_id = $1
		ORDER BY an.question_id, an.display_order, an.id
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query slot answers: %w", err)
	}
	defer rows.Close()

	out := make([]catalog.Answer, 0)
	for rows.Next() {
		var a catalog.Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Text, &a.IsCorrect, &a.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan slot answer: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot answers: %w", err)
	}
	return out, nil
}

func summaryFromRow(row *attemptRow) AttemptSummary {
	percentage := Percentage(row.Score, row.MaxScore)
	summary := AttemptSummary{
		ID:           row.ID,
		TestID:       row.TestID,
		TestTitle:    row.TestTitle,
		Status:       row.Status,
		Score:        row.Score,
		MaxScore:     row.MaxScore,
		Percentage:   percentage,
		Passed:       row.Status == StatusCompleted && percentage >= row.PassingScorePercent,
		PassingScore: row.PassingScorePercent,
		StartedAt:    time.Unix(row.StartedAt, 0).UTC(),
	}
	if row.FinishedAt.Valid {
		t := time.Unix(row.FinishedAt.Int64, 0).UTC()
		summary.FinishedAt = &t
	}
	return summary
}

func expired(row *attemptRow) bool {
	if row.TimeLimitMinutes <= 0 {
		return false
	}
	deadline := row.StartedAt + int64(row.TimeLimitMinutes)*60
	return time.Now().Unix() > deadline
}

func remainingSeconds(row *attemptRow) *int64 {
	if row.TimeLimitMinutes <= 0 {
		return nil
	}
	remaining := row.StartedAt + int64(row.TimeLimitMinutes)*60 - time.Now().Unix()
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
