package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrTestNotFound = errors.New("test not found")

// Question types supported by the bank.
const (
	TypeSingle   = "single"
	TypeMultiple = "multiple"
	TypeText     = "text"
)

type Category struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	QuestionsCount int64  `json:"questions_count"`
}

type Answer struct {
	ID           int64  `json:"id"`
	QuestionID   int64  `json:"question_id"`
	Text         string `json:"text"`
	IsCorrect    bool   `json:"is_correct"`
	DisplayOrder int64  `json:"display_order"`
}

type Question struct {
	ID          int64    `json:"id"`
	CategoryID  int64    `json:"category_id"`
	Text        string   `json:"text"`
	Type        string   `json:"type"`
	Points      int64    `json:"points"`
	Explanation string   `json:"explanation"`
	Answers     []Answer `json:"answers"`
}

// Test is an attempt blueprint: how many questions to draw, from which
// categories, under what time limit and pass mark.
type Test struct {
	ID                  int64   `json:"id"`
	Title               string  `json:"title"`
	Description         string  `json:"description"`
	QuestionCount       int     `json:"question_count"`
	TimeLimitMinutes    int     `json:"time_limit_minutes"`
	PassingScorePercent int     `json:"passing_score_percent"`
	CategoryIDs         []int64 `json:"category_ids"`
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.id,
			c.name,
			c.description,
			COUNT(q.id)
		FROM categories c
		LEFT JOIN questions q
			ON q.category_id = c.id
			AND q.is_active = TRUE
		GROUP BY c.id, c.name, c.description, c.display_order
		ORDER BY c.display_order, c.name
	`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	out := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.QuestionsCount); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func (s *Service) ListActiveTests(ctx context.Context) ([]Test, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, question_count, time_limit_minutes, passing_score_percent
		FROM tests
		WHERE is_active = TRUE
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	out := make([]Test, 0)
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.QuestionCount, &t.TimeLimitMinutes, &t.PassingScorePercent); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}

	for i := range out {
		ids, err := s.testCategoryIDs(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].CategoryIDs = ids
	}
	return out, nil
}

// GetActiveTest loads one active test; inactive and missing tests are
// indistinguishable to callers.
func (s *Service) GetActiveTest(ctx context.Context, testID int64) (*Test, error) {
	var t Test
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, question_count, time_limit_minutes, passing_score_percent
		FROM tests
		WHERE id = $1 AND is_active = TRUE
	`, testID).Scan(&t.ID, &t.Title, &t.Description, &t.QuestionCount, &t.TimeLimitMinutes, &t.PassingScorePercent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}

	ids, err := s.testCategoryIDs(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.CategoryIDs = ids
	return &t, nil
}

func (s *Service) testCategoryIDs(ctx context.Context, testID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id
		FROM test_categories
		WHERE test_id = $1
		ORDER BY category_id
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query test categories: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan test category: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test categories: %w", err)
	}
	return ids, nil
}

// EligibleQuestions returns the active candidate pool for sampling,
// answers included. An empty category set means the whole active bank.
func (s *Service) EligibleQuestions(ctx context.Context, categoryIDs []int64) ([]Question, error) {
	query := `
		SELECT id, category_id, question_text, question_type, points, explanation
		FROM questions
		WHERE is_active = TRUE`
	args := make([]interface{}, 0, len(categoryIDs))
	if len(categoryIDs) > 0 {
		placeholders := make([]string, len(categoryIDs))
		for i, id := range categoryIDs {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, id)
		}
		query += " AND category_id IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible questions: %w", err)
	}
	defer rows.Close()

	questions := make([]Question, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.CategoryID, &q.Text, &q.Type, &q.Points, &q.Explanation); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	if len(questions) == 0 {
		return questions, nil
	}

	answers, err := s.answersForQuestions(ctx, questionIDs(questions))
	if err != nil {
		return nil, err
	}
	for _, a := range answers {
		i, ok := index[a.QuestionID]
		if !ok {
			continue
		}
		questions[i].Answers = append(questions[i].Answers, a)
	}
	return questions, nil
}

func (s *Service) answersForQuestions(ctx context.Context, ids []int64) ([]Answer, error) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `
		SELECT id, question_id, answer_text, is_correct, display_order
		FROM answers
		WHERE question_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY question_id, display_order, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make([]Answer, 0)
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Text, &a.IsCorrect, &a.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

func questionIDs(questions []Question) []int64 {
	ids := make([]int64, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	return ids
}
