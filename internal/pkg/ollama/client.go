package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

const DefaultBaseURL = "http://localhost:11434"

var (
	ErrUnreachable   = errors.New("model server unreachable")
	ErrModelNotFound = errors.New("model not found on model server")
	ErrInvalidName   = errors.New("invalid model name")
)

// StatusError is an unexpected non-2xx answer from the model server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model server returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to an Ollama-compatible model server.
type Client struct {
	BaseURL string

	GenerateTimeout time.Duration
	TagsTimeout     time.Duration
	PullTimeout     time.Duration

	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return &Client{
		BaseURL:         strings.TrimRight(strings.TrimSpace(env.GetEnv("OLLAMA_BASE_URL", DefaultBaseURL)), "/"),
		GenerateTimeout: env.GetDuration("OLLAMA_GENERATE_TIMEOUT", 120*time.Second),
		TagsTimeout:     10 * time.Second,
		PullTimeout:     env.GetDuration("OLLAMA_PULL_TIMEOUT", 600*time.Second),
		HTTPClient:      &http.Client{},
	}
}

// PullProgress is one line of the pull progress stream.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Generate sends a single non-streaming prompt and returns the model's answer.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.GenerateTimeout)
	defer cancel()

	var out struct {
		Response string `json:"response"`
	}
	err := c.postJSON(ctx, "/api/generate", map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Response == "" {
		return "No response from model", nil
	}
	return out.Response, nil
}

// Tags lists the names of installed models.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, c.TagsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Pull downloads a model and waits for the server to finish.
func (c *Client) Pull(ctx context.Context, name string) error {
	if !ValidModelName(name) {
		return ErrInvalidName
	}
	ctx, cancel := withTimeout(ctx, c.PullTimeout)
	defer cancel()

	return c.postJSON(ctx, "/api/pull", map[string]any{"name": name, "stream": false}, nil)
}

// PullStream downloads a model and calls fn for every progress line. A
// returned error from fn stops the pull.
func (c *Client) PullStream(ctx context.Context, name string, fn func(PullProgress) error) error {
	if !ValidModelName(name) {
		return ErrInvalidName
	}
	ctx, cancel := withTimeout(ctx, c.PullTimeout)
	defer cancel()

	req, err := c.newJSONRequest(ctx, "/api/pull", map[string]any{"name": name, "stream": true})
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			return fmt.Errorf("decode pull progress: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
		if p.Error != "" {
			return fmt.Errorf("pull %s: %s", name, p.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return classifyTransport(err)
	}
	return nil
}

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[A-Za-z0-9][A-Za-z0-9._-]*)?(:[A-Za-z0-9][A-Za-z0-9._-]*)?$`)

// ValidModelName accepts "name", "namespace/name" and either with a ":tag".
// Path traversal and slashes inside the tag are rejected.
func ValidModelName(name string) bool {
	if name == "" || len(name) > 200 || strings.Contains(name, "..") {
		return false
	}
	return modelNamePattern.MatchString(name)
}

// IsInstalled reports whether model appears in installed, either exactly or
// as any tag of the same base name.
func IsInstalled(installed []string, model string) bool {
	base := model
	if i := strings.Index(model, ":"); i >= 0 {
		base = model[:i]
	}
	for _, m := range installed {
		if m == model || (base != "" && strings.HasPrefix(m, base)) {
			return true
		}
	}
	return false
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	req, err := c.newJSONRequest(ctx, path, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newJSONRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req and converts transport failures and error statuses.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrModelNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
