package app

import (
	"context"
	"errors"

	"live-quiz-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
}

// Catalog narrows quiz content to what a live room may play.
type Catalog struct {
	quizzes QuizRepository
}

func NewCatalog(quizzes QuizRepository) *Catalog {
	return &Catalog{quizzes: quizzes}
}

// ActiveQuiz returns the quiz with only active questions and options, ordered by id.
// Missing, inactive or empty quizzes all report domain.ErrQuizNotFound.
func (c *Catalog) ActiveQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	quiz, err := c.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, err
	}
	if !quiz.IsActive {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz.Questions = quiz.ActiveQuestions()
	if len(quiz.Questions) == 0 {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

// Questions returns the ordered active questions of a quiz.
func (c *Catalog) Questions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	quiz, err := c.ActiveQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return quiz.Questions, nil
}

// Describe returns quiz metadata for display, tolerating quizzes that were deactivated after a room was created.
func (c *Catalog) Describe(ctx context.Context, quizID int64) domain.Quiz {
	quiz, err := c.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{ID: quizID}
	}
	quiz.Questions = nil
	return quiz
}
