package postgres

import (
	"context"
	"errors"
	"fmt"

	"live-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader reads a quiz with its questions and answer options from the catalog tables.
// Inactive rows are returned as well; filtering happens in the catalog.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := l.pool.QueryRow(ctx,
		`SELECT id, title, description, difficulty, is_active FROM quizzes WHERE id=$1`, quizID,
	).Scan(&quiz.ID, &quiz.Title, &quiz.Description, &quiz.Difficulty, &quiz.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	questions, err := l.loadQuestions(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	options, err := l.loadOptions(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	for i := range questions {
		questions[i].Options = options[questions[i].ID]
	}
	quiz.Questions = questions
	return quiz, nil
}

func (l *QuizLoader) loadQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, text, type, text_answer, is_active FROM questions WHERE quiz_id=$1 ORDER BY id`, quizID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var (
			q     domain.Question
			qtype string
		)
		if err := rows.Scan(&q.ID, &q.Text, &qtype, &q.TextAnswer, &q.IsActive); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Type = domain.QuestionType(qtype)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return out, nil
}

func (l *QuizLoader) loadOptions(ctx context.Context, quizID int64) (map[int64][]domain.Option, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT o.id, o.question_id, o.text, o.is_correct, o.is_active
		FROM answer_options o
		JOIN questions q ON q.id = o.question_id
		WHERE q.quiz_id=$1
		ORDER BY o.id`, quizID)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.Option)
	for rows.Next() {
		var (
			o          domain.Option
			questionID int64
		)
		if err := rows.Scan(&o.ID, &questionID, &o.Text, &o.IsCorrect, &o.IsActive); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out[questionID] = append(out[questionID], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	return out, nil
}
