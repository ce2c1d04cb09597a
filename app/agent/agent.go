// Package agent wraps the optional generative backend. It either returns
// text or reports unavailable; callers fall back to extractive answering
// and never surface its failures to the end user.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// ErrUnavailable covers every backend failure: network, non-2xx status,
// malformed or empty response.
var ErrUnavailable = errors.New("generative backend unavailable")

const systemPrompt = `You are an assistant. Answer only from the provided CONTEXT. If the context does not contain enough information, say so explicitly. Answer clearly and to the point, without adding any additional information.`

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

type Agent struct {
	url         string
	model       string
	timeout     time.Duration
	tokenBudget int
	enabled     bool
	client      *http.Client
}

func New(url, model string, timeout time.Duration, tokenBudget int, enabled bool) *Agent {
	return &Agent{
		url:         url,
		model:       model,
		timeout:     timeout,
		tokenBudget: tokenBudget,
		enabled:     enabled,
		client:      http.DefaultClient,
	}
}

func (a *Agent) Enabled() bool {
	return a.enabled
}

// Generate asks the backend to answer from the retrieved contexts. Any
// failure comes back as ErrUnavailable.
func (a *Agent) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	if !a.enabled {
		return "", ErrUnavailable
	}

	start := time.Now()
	defer func() {
		log.Printf("[AGENT] generation took %v", time.Since(start))
	}()

	prompt := a.buildPrompt(question, contexts)

	reqBody, err := json.Marshal(GenerateRequest{
		Model:  a.model,
		System: systemPrompt,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return strings.TrimSpace(genResp.Response), nil
	}

	// Some backends stream newline-delimited JSON even when asked not to.
	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output.WriteString(chunk.Response)
	}

	answer := strings.TrimSpace(output.String())
	if answer == "" {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return answer, nil
}

// buildPrompt is deterministic for a given (question, contexts) pair.
// Contexts are dropped from the tail, farthest match first, until the
// prompt fits the token budget.
func (a *Agent) buildPrompt(question string, contexts []string) string {
	kept := contexts
	for len(kept) > 1 {
		prompt := assemblePrompt(question, kept)
		count, err := countTokens(prompt)
		if err != nil || count <= a.tokenBudget {
			break
		}
		kept = kept[:len(kept)-1]
	}
	return assemblePrompt(question, kept)
}

func assemblePrompt(question string, contexts []string) string {
	return fmt.Sprintf(`Answer the question based only on the given context. If the context is empty or does not contain the answer, reply 'No information for this request.' Nothing else.
CONTEXT:
%s

QUESTION:
%s
ANSWER:`, strings.Join(contexts, "\n\n"), question)
}

func countTokens(text string) (int, error) {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
