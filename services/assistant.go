package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"railway-accident-analytics/config"
)

// datasetPreamble is appended to every query so answers stay grounded in
// the accident dataset.
const datasetPreamble = "The available data on Indian railway accidents spans from 1902 to 2024. " +
	"The model MUST base its answers primarily on this dataset, but can use outside information if required. " +
	"Do not hallucinate data, instead respond that the data does not exist."

// ErrAssistantUnavailable wraps every transport or upstream failure.
var ErrAssistantUnavailable = errors.New("assistant unavailable")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Assistant answers free-text questions through an OpenAI-compatible chat
// completions endpoint.
type Assistant struct {
	client    *http.Client
	url       string
	apiKey    string
	model     string
	maxTokens int
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	answers   *lru.Cache[string, string]
	log       logrus.FieldLogger
}

func NewAssistant(cfg config.AssistantConfig, logger logrus.FieldLogger) (*Assistant, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 128
	}
	answers, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer cache: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	return &Assistant{
		client:    &http.Client{Timeout: timeout},
		url:       cfg.APIURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "assistant",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"circuit_breaker": name,
					"from_state":      from.String(),
					"to_state":        to.String(),
				}).Warn("circuit breaker state changed")
			},
		}),
		limiter: rate.NewLimiter(limit, 1),
		answers: answers,
		log:     logger,
	}, nil
}

// Ask returns the model's answer to query. Repeated questions are served
// from an in-memory cache.
func (a *Assistant) Ask(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("query is empty")
	}
	if answer, ok := a.answers.Get(query); ok {
		assistantRequests.WithLabelValues("cached").Inc()
		return answer, nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		assistantRequests.WithLabelValues("rate_limited").Inc()
		return "", fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.complete(ctx, query)
	})
	if err != nil {
		assistantRequests.WithLabelValues("failed").Inc()
		a.log.WithError(err).Warn("assistant request failed")
		if errors.Is(err, ErrAssistantUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}
	answer := result.(string)
	a.answers.Add(query, answer)
	assistantRequests.WithLabelValues("ok").Inc()
	return answer, nil
}

func (a *Assistant) complete(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:     a.model,
		Messages:  []chatMessage{{Role: "user", Content: query + ". " + datasetPreamble}},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrAssistantUnavailable, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: status %d: %s", ErrAssistantUnavailable, resp.StatusCode, truncate(raw, 300))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: API error: %s", ErrAssistantUnavailable, truncate(raw, 300))
	}
	return parsed.Choices[0].Message.Content, nil
}

// truncate cuts b to at most n bytes on a rune boundary.
func truncate(b []byte, n int) string {
	s := strings.ToValidUTF8(strings.TrimSpace(string(b)), "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
