package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bildung/quizrag/outline"
)

// CourseStore reads quizzes, course outlines, and lectures from the
// platform's Postgres schema.
type CourseStore struct {
	pool *pgxpool.Pool
}

func NewCourseStore(pool *pgxpool.Pool) *CourseStore {
	return &CourseStore{pool: pool}
}

var _ outline.CourseStore = (*CourseStore)(nil)

func (s *CourseStore) GetQuiz(ctx context.Context, quizID int64) (outline.Quiz, error) {
	var quiz outline.Quiz
	err := s.pool.QueryRow(ctx,
		"SELECT id, course_id, title FROM quizzes_quiz WHERE id = $1",
		quizID,
	).Scan(&quiz.ID, &quiz.CourseID, &quiz.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return outline.Quiz{}, fmt.Errorf("quiz %d: %w", quizID, outline.ErrNotFound)
	}
	if err != nil {
		return outline.Quiz{}, fmt.Errorf("query quiz %d: %w", quizID, err)
	}
	return quiz, nil
}

// structureEntry mirrors one element of courses_course.structure_json. The
// id fields arrive as either numbers or strings depending on who wrote the
// outline, so both are decoded leniently.
type structureEntry struct {
	Type     string          `json:"type"`
	QuizID   json.RawMessage `json:"quiz_id"`
	ModuleID json.RawMessage `json:"module_id"`
}

func (s *CourseStore) GetOutline(ctx context.Context, courseID int64) (outline.Outline, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(structure_json, '[]'::json) FROM courses_course WHERE id = $1",
		courseID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("course %d: %w", courseID, outline.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query course %d: %w", courseID, err)
	}

	var entries []structureEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode course %d structure: %w", courseID, err)
	}

	blocks := make(outline.Outline, 0, len(entries))
	for position, entry := range entries {
		block := outline.Block{Type: outline.BlockType(entry.Type), Position: position}
		switch block.Type {
		case outline.BlockQuiz:
			block.ID = decodeID(entry.QuizID)
		case outline.BlockModule:
			block.ID = decodeID(entry.ModuleID)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (s *CourseStore) GetLectures(ctx context.Context, moduleIDs []int64) ([]outline.Lecture, error) {
	if len(moduleIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, module_id, COALESCE(title, ''), COALESCE(file, ''), COALESCE(video, ''), COALESCE(lecture_order, 0)
		FROM courses_lecture
		WHERE module_id = ANY($1)
		ORDER BY module_id, lecture_order
	`, moduleIDs)
	if err != nil {
		return nil, fmt.Errorf("query lectures: %w", err)
	}
	defer rows.Close()

	lectures := make([]outline.Lecture, 0)
	for rows.Next() {
		var lecture outline.Lecture
		if err := rows.Scan(&lecture.ID, &lecture.ModuleID, &lecture.Title, &lecture.File, &lecture.Video, &lecture.Order); err != nil {
			return nil, fmt.Errorf("scan lecture row: %w", err)
		}
		lectures = append(lectures, lecture)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lecture rows: %w", err)
	}
	return lectures, nil
}

// decodeID accepts a JSON number or numeric string; anything else yields 0,
// which resolution treats as an absent id.
func decodeID(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}

	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if parsed, parseErr := strconv.ParseInt(asString, 10, 64); parseErr == nil {
			return parsed
		}
	}
	return 0
}
