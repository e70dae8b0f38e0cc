package ingestion

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/bildung/quizrag/outline"
)

// Loader resolves lecture locators and extracts their raw text. Nothing is
// cached here: re-extraction happens on every index cache miss.
type Loader struct {
	mediaRoot   string
	transcriber Transcriber
	logger      *log.Logger
}

func NewLoader(mediaRoot string, transcriber Transcriber, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{
		mediaRoot:   mediaRoot,
		transcriber: transcriber,
		logger:      logger,
	}
}

// Load extracts the raw units of every lecture admitted by the selector.
//
// A document that cannot be opened or parsed fails the whole load with
// ErrContentMissing. Audio units degrade to a logged warning and are skipped,
// since transcription is inherently lossy and best-effort.
func (l *Loader) Load(ctx context.Context, lectures []outline.Lecture, selector Selector) ([]Unit, error) {
	units := make([]Unit, 0)

	for _, lecture := range lectures {
		if selector.includesDocuments() && lecture.File != "" {
			extracted, err := ExtractPDF(filepath.Join(l.mediaRoot, lecture.File), lecture.File)
			if err != nil {
				return nil, fmt.Errorf("lecture %d: %w", lecture.ID, err)
			}
			units = append(units, extracted...)
		}

		if selector.includesAudio() && lecture.Video != "" {
			transcribed, err := l.transcribeLecture(ctx, lecture)
			if err != nil {
				l.logger.Printf("skipping audio for lecture %d (%s): %v", lecture.ID, lecture.Video, err)
				continue
			}
			units = append(units, transcribed...)
		}
	}

	return units, nil
}

func (l *Loader) transcribeLecture(ctx context.Context, lecture outline.Lecture) ([]Unit, error) {
	if l.transcriber == nil {
		return nil, fmt.Errorf("no transcriber configured")
	}

	path := filepath.Join(l.mediaRoot, lecture.Video)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}

	segments, err := l.transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty transcript")
	}

	units := make([]Unit, 0, len(segments))
	for _, segment := range segments {
		units = append(units, Unit{
			SourceID:   lecture.Video,
			SourceType: SourceAudio,
			Document:   PlainText{Text: segment},
		})
	}
	return units, nil
}
