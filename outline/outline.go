package outline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// BlockType classifies one entry of a course outline.
type BlockType string

const (
	BlockModule     BlockType = "Module"
	BlockQuiz       BlockType = "Quiz"
	BlockAssignment BlockType = "Assignment"
	BlockLiveClass  BlockType = "LiveClass"
)

// Block is one positioned entry of a course outline. Positions are strictly
// increasing and unique within an outline.
type Block struct {
	Type     BlockType
	ID       int64
	Position int
}

type Outline []Block

// ScopeMode selects which prior modules a quiz may draw content from.
type ScopeMode string

const (
	ScopeAllBefore     ScopeMode = "all_before"
	ScopeSinceLastQuiz ScopeMode = "since_last_quiz"
)

var ErrInvalidScope = errors.New("invalid scope")

// ParseScope normalizes the free-form scope parameter accepted on the API
// surface. An empty value selects all_before.
func ParseScope(raw string) (ScopeMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all", "all_before":
		return ScopeAllBefore, nil
	case "between", "since", "since_last_quiz":
		return ScopeSinceLastQuiz, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
}

type Quiz struct {
	ID       int64
	CourseID int64
	Title    string
}

// Lecture is one lecture row as the course store exposes it. File and Video
// are media locators relative to the platform media root; either may be empty.
type Lecture struct {
	ID       int64  `json:"id"`
	ModuleID int64  `json:"module_id"`
	Title    string `json:"title"`
	File     string `json:"file,omitempty"`
	Video    string `json:"video,omitempty"`
	Order    int    `json:"order"`
}

// ErrNotFound is returned (wrapped) by CourseStore implementations when a
// quiz or course does not exist.
var ErrNotFound = errors.New("not found")

// CourseStore is the read-side contract this engine requires from the
// course/quiz data store. The outline is re-read on every resolution; the
// engine never caches it.
type CourseStore interface {
	GetQuiz(ctx context.Context, quizID int64) (Quiz, error)
	GetOutline(ctx context.Context, courseID int64) (Outline, error)
	GetLectures(ctx context.Context, moduleIDs []int64) ([]Lecture, error)
}
