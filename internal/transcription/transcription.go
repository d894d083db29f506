// Package transcription talks to the ElevenLabs speech-to-text API.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"english-eval-go/internal/config"
	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/types"
)

const speechToTextPath = "/v1/speech-to-text"

// Request is one recording plus the caller's transcription hints.
type Request struct {
	Filename    string
	ContentType string
	Audio       []byte
	Options     types.Options
}

type Client struct {
	baseURL     string
	apiKey      string
	modelID     string
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	httpClient  *http.Client
}

func New(cfg config.TranscriptionConfig) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		modelID:     cfg.ModelID,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		httpClient:  &http.Client{},
	}
}

type sttResponse struct {
	LanguageCode string            `json:"language_code"`
	Text         string            `json:"text"`
	Words        []json.RawMessage `json:"words"`
}

// Transcribe sends the audio with a per-attempt timeout and retries
// transient failures. Running out of attempts yields a TranscriptionError
// carrying the last provider error.
func (c *Client) Transcribe(ctx context.Context, req Request) (types.Transcript, error) {
	log := logger.Component("transcription").WithFields(logrus.Fields{
		"filename":      req.Filename,
		"language_code": req.Options.LanguageCode,
		"diarize":       req.Options.Diarize,
	})
	log.Info("starting transcription")

	var (
		out     types.Transcript
		lastErr error
		attempt int
	)
	op := func() error {
		attempt++
		start := time.Now()
		t, err := c.once(ctx, req)
		if err != nil {
			lastErr = err
			log.WithField("attempt", attempt).WithField("duration_ms", time.Since(start).Milliseconds()).
				WithField("error", err.Error()).Warn("transcription attempt failed")
			return err
		}
		out = t
		return nil
	}

	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return types.Transcript{}, evalerr.Transcription(
			fmt.Sprintf("transcription failed after %d attempt(s)", attempt), lastErr)
	}
	log.WithField("attempts", attempt).WithField("text_length", len(out.Text)).Info("transcription completed")
	return out, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = 8 * c.retryDelay
	b.MaxElapsedTime = 0
	retries := c.maxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (c *Client) once(ctx context.Context, req Request) (types.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, contentType, err := c.encode(req)
	if err != nil {
		return types.Transcript{}, backoff.Permanent(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+speechToTextPath, body)
	if err != nil {
		return types.Transcript{}, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Transcript{}, fmt.Errorf("provider timeout after %s: %w", c.timeout, err)
		}
		return types.Transcript{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		if transientStatus(resp.StatusCode) {
			return types.Transcript{}, err
		}
		return types.Transcript{}, backoff.Permanent(err)
	}

	var parsed sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return types.Transcript{}, fmt.Errorf("decoding transcription: %w", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return types.Transcript{}, backoff.Permanent(errors.New("provider returned empty transcription"))
	}

	t := types.Transcript{Text: parsed.Text, Language: parsed.LanguageCode}
	for _, w := range parsed.Words {
		t.Segments = append(t.Segments, types.Segment(w))
	}
	return t, nil
}

func (c *Client) encode(req Request) (io.Reader, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	filename := req.Filename
	if filename == "" {
		filename = "audio"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	ct := req.ContentType
	if ct == "" {
		ct = "audio/mpeg"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}

	lang := req.Options.LanguageCode
	if lang == "" {
		lang = "eng"
	}
	_ = w.WriteField("model_id", c.modelID)
	_ = w.WriteField("language_code", lang)
	_ = w.WriteField("diarize", strconv.FormatBool(req.Options.Diarize))
	_ = w.WriteField("tag_audio_events", strconv.FormatBool(req.Options.TagAudioEvents))
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return &b, w.FormDataContentType(), nil
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
