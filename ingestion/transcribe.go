package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bildung/quizrag/config"
)

// Transcriber converts a spoken-audio file into contiguous text segments.
// Transcription is best-effort: callers downgrade failures to warnings.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) ([]string, error)
	Close() error
}

// maxInlineAudioBytes caps the audio payload sent inline with the request.
// The recognition API rejects larger inline content; those files need an
// object-store upload path before they can be transcribed.
const maxInlineAudioBytes = 10 << 20

type speechTranscriber struct {
	client     *speech.Client
	language   string
	timeout    time.Duration
	maxRetries int
}

// NewSpeechTranscriber builds a Transcriber backed by Google Cloud
// Speech-to-Text.
func NewSpeechTranscriber(ctx context.Context, cfg config.SpeechConfig) (Transcriber, error) {
	opts := make([]option.ClientOption, 0, 1)
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	language := cfg.LanguageCode
	if language == "" {
		language = "en-US"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	return &speechTranscriber{
		client:     client,
		language:   language,
		timeout:    timeout,
		maxRetries: 4,
	}, nil
}

func (t *speechTranscriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

// Transcribe runs a long-running recognition over the audio file and returns
// one string per recognized utterance, blanks dropped.
func (t *speechTranscriber) Transcribe(ctx context.Context, path string) ([]string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	if len(audio) == 0 {
		return nil, nil
	}
	if len(audio) > maxInlineAudioBytes {
		return nil, fmt.Errorf("audio file %s is %d bytes, above the %d byte inline recognition limit", filepath.Base(path), len(audio), maxInlineAudioBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               t.language,
			EnableAutomaticPunctuation: true,
			Encoding:                   inferEncoding(path),
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	resp, err := t.recognizeWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("speech recognize %s: %w", filepath.Base(path), err)
	}

	segments := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		segments = append(segments, text)
	}

	return segments, nil
}

func (t *speechTranscriber) recognizeWithRetry(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		op, err := t.client.LongRunningRecognize(ctx, req)
		if err == nil {
			resp, waitErr := op.Wait(ctx)
			if waitErr == nil {
				return resp, nil
			}
			err = waitErr
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == t.maxRetries {
			break
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}

	return nil, last
}

func inferEncoding(path string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
