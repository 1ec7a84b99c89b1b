// Package ocr calls the OCR.space API to turn receipt images into raw
// text. The rest of the system only ever sees the resulting transcript:
// provider failures degrade to an empty string, and the parse pipeline
// treats that as a valid (empty) input.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// Doer lets us stub the HTTP transport in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Endpoint string // full parse URL; if empty -> api.ocr.space
	APIKey   string
	Language string // default "eng"
	Engine   int    // OCR.space engine, default 2
	Timeout  time.Duration
}

type Client struct {
	cfg    Config
	http   Doer
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.ocr.space/parse/image"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Engine <= 0 {
		cfg.Engine = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// parseResponse is the subset of the OCR.space payload we read.
// ErrorMessage is sometimes a string and sometimes an array, so it
// stays raw and is only ever logged.
type parseResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

// ExtractText uploads image bytes and returns the extracted transcript.
// Any provider failure returns ("", err): the error is for the caller's
// log only, and proceeding with the empty transcript is the expected
// recovery. Empty input short-circuits to ("", nil).
func (c *Client) ExtractText(ctx context.Context, image []byte, filename string) (string, error) {
	if len(image) == 0 {
		return "", nil
	}

	start := time.Now()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fields := map[string]string{
		"apikey":            c.cfg.APIKey,
		"language":          c.cfg.Language,
		"isOverlayRequired": "false",
		"scale":             "true",
		"OCREngine":         strconv.Itoa(c.cfg.Engine),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	c.logger.Info("ocr.request", "endpoint", c.cfg.Endpoint, "filename", filename, "bytes", len(image))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("ocr.send_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("ocr.body_close_error", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}
	c.logger.Info("ocr.response",
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("ocr non-2xx status: %d", resp.StatusCode)
	}

	var pr parseResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if pr.IsErroredOnProcessing {
		c.logger.Warn("ocr.provider_error", "message", string(pr.ErrorMessage))
		return "", fmt.Errorf("ocr provider error: %s", string(pr.ErrorMessage))
	}
	if len(pr.ParsedResults) == 0 || pr.ParsedResults[0].ParsedText == "" {
		return "", nil
	}
	return pr.ParsedResults[0].ParsedText, nil
}
