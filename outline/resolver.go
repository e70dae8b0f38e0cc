package outline

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// Resolver maps a quiz plus a scope mode to the ordered set of module ids the
// quiz is allowed to draw content from.
type Resolver struct {
	store  CourseStore
	logger *log.Logger
}

func NewResolver(store CourseStore, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the ids of the modules accessible to the quiz under the
// given scope mode, in outline order.
//
// The target quiz's position bounds the window on the right; a quiz that does
// not appear in its course outline is treated as sitting at the end. Under
// ScopeSinceLastQuiz the window opens just after the nearest preceding quiz.
// When that window contains no modules the resolver widens to all_before so
// generation stays usable before any earlier quiz exists.
func (r *Resolver) Resolve(ctx context.Context, quizID int64, mode ScopeMode) ([]int64, error) {
	if r.store == nil {
		return nil, fmt.Errorf("course store is not configured")
	}

	quiz, err := r.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz %d: %w", quizID, err)
	}

	outline, err := r.store.GetOutline(ctx, quiz.CourseID)
	if err != nil {
		return nil, fmt.Errorf("load outline for course %d: %w", quiz.CourseID, err)
	}

	targetPos := endPosition(outline)
	for _, block := range outline {
		if block.Type == BlockQuiz && block.ID == quizID {
			targetPos = block.Position
			break
		}
	}

	prevPos := -1
	for _, block := range outline {
		if block.Type == BlockQuiz && block.Position < targetPos && block.Position > prevPos {
			prevPos = block.Position
		}
	}

	lower := -1
	if mode == ScopeSinceLastQuiz {
		lower = prevPos
	}

	moduleIDs := collectModules(outline, lower, targetPos)

	if len(moduleIDs) == 0 && mode == ScopeSinceLastQuiz {
		r.logger.Printf("quiz %d: no modules between previous quiz and target, widening scope to all_before", quizID)
		moduleIDs = collectModules(outline, -1, targetPos)
	}

	return moduleIDs, nil
}

// AccessibleLectures resolves the scope and returns the lectures of every
// accessible module, ordered by module then lecture order.
func (r *Resolver) AccessibleLectures(ctx context.Context, quizID int64, mode ScopeMode) ([]Lecture, error) {
	moduleIDs, err := r.Resolve(ctx, quizID, mode)
	if err != nil {
		return nil, err
	}
	if len(moduleIDs) == 0 {
		return nil, nil
	}

	lectures, err := r.store.GetLectures(ctx, moduleIDs)
	if err != nil {
		return nil, fmt.Errorf("load lectures: %w", err)
	}

	order := make(map[int64]int, len(moduleIDs))
	for idx, id := range moduleIDs {
		order[id] = idx
	}
	sort.SliceStable(lectures, func(i, j int) bool {
		if order[lectures[i].ModuleID] != order[lectures[j].ModuleID] {
			return order[lectures[i].ModuleID] < order[lectures[j].ModuleID]
		}
		return lectures[i].Order < lectures[j].Order
	})

	return lectures, nil
}

// collectModules gathers module ids whose position lies in the open interval
// (lower, upper), in outline order.
func collectModules(outline Outline, lower, upper int) []int64 {
	ids := make([]int64, 0)
	for _, block := range outline {
		if block.Type != BlockModule || block.ID == 0 {
			continue
		}
		if block.Position > lower && block.Position < upper {
			ids = append(ids, block.ID)
		}
	}
	return ids
}

func endPosition(outline Outline) int {
	end := 0
	for _, block := range outline {
		if block.Position >= end {
			end = block.Position + 1
		}
	}
	return end
}
