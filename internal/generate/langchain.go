package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// DefaultCallTimeout bounds one completion call.
	DefaultCallTimeout = 5 * time.Minute

	checkTimeout = 10 * time.Second
)

// LangchainRuntime runs completions through a langchaingo model.
type LangchainRuntime struct {
	backend Backend
	model   llms.Model
	timeout time.Duration
}

var _ Runtime = (*LangchainRuntime)(nil)

// NewLangchainRuntime wraps an already constructed model. Tests and
// callers with custom clients use it directly.
func NewLangchainRuntime(b Backend, model llms.Model, timeout time.Duration) *LangchainRuntime {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &LangchainRuntime{backend: b, model: model, timeout: timeout}
}

// Complete generates text for prompt.
func (r *LangchainRuntime) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", NewError(KindInvalidInput, r.backend.ID, errors.New("empty prompt"))
	}
	if maxTokens <= 0 {
		return "", NewError(KindInvalidInput, r.backend.ID, fmt.Errorf("max tokens must be positive, got %d", maxTokens))
	}
	if r.backend.ContextSize > 0 && maxTokens >= r.backend.ContextSize {
		return "", NewError(KindOverflow, r.backend.ID,
			fmt.Errorf("requested tokens (%d) exceed context window of %d", maxTokens, r.backend.ContextSize))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := llms.GenerateFromSinglePrompt(callCtx, r.model, prompt,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return "", Classify(r.backend.ID, err)
	}
	return text, nil
}

// Close is a no-op; langchaingo clients hold no resources beyond the
// shared HTTP transport.
func (r *LangchainRuntime) Close() error {
	return nil
}

// LangchainLoader returns a Loader that builds langchaingo clients and
// checks that the backend's model is served before handing it out.
func LangchainLoader(httpClient *http.Client, callTimeout time.Duration) Loader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: checkTimeout}
	}
	return func(ctx context.Context, b Backend) (Runtime, error) {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		var model llms.Model
		switch b.Provider {
		case ProviderOllama:
			if err := checkOllama(checkCtx, httpClient, b); err != nil {
				return nil, NewError(KindUnavailable, b.ID, err)
			}
			llm, err := ollama.New(
				ollama.WithServerURL(b.Endpoint),
				ollama.WithModel(b.Model),
				ollama.WithRunnerNumCtx(b.ContextSize),
			)
			if err != nil {
				return nil, NewError(KindUnavailable, b.ID, err)
			}
			model = llm
		case ProviderOpenAI:
			if err := checkOpenAI(checkCtx, httpClient, b); err != nil {
				return nil, NewError(KindUnavailable, b.ID, err)
			}
			token := os.Getenv("OPENAI_API_KEY")
			if token == "" {
				token = "none"
			}
			llm, err := openai.New(
				openai.WithBaseURL(b.Endpoint),
				openai.WithToken(token),
				openai.WithModel(b.Model),
			)
			if err != nil {
				return nil, NewError(KindUnavailable, b.ID, err)
			}
			model = llm
		default:
			return nil, NewError(KindUnavailable, b.ID, fmt.Errorf("unknown provider %q", b.Provider))
		}
		return NewLangchainRuntime(b, model, callTimeout), nil
	}
}

// checkOllama checks that b.Model is listed by /api/tags.
func checkOllama(ctx context.Context, client *http.Client, b Backend) error {
	body, err := get(ctx, client, strings.TrimRight(b.Endpoint, "/")+"/api/tags")
	if err != nil {
		return err
	}
	var list struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("decode model list: %w", err)
	}
	want := strings.ToLower(b.Model)
	for _, m := range list.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.TrimSuffix(name, ":latest") == want {
			return nil
		}
	}
	return fmt.Errorf("model %s not found, try pulling it with 'ollama pull %s'", b.Model, b.Model)
}

// checkOpenAI checks that the server answers /models.
func checkOpenAI(ctx context.Context, client *http.Client, b Backend) error {
	_, err := get(ctx, client, strings.TrimRight(b.Endpoint, "/")+"/models")
	return err
}

func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return body, nil
}
