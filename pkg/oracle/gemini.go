package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini implements the text, startup and event-ID classifiers. One client is
// opened per API key up front, so the credential passed on each call only
// selects a model and the value is safe for concurrent use.
type Gemini struct {
	clients []*genai.Client
	models  map[string]*genai.GenerativeModel
}

func NewGemini(ctx context.Context, keys []string, modelName string) (*Gemini, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyPool
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	g := &Gemini{models: make(map[string]*genai.GenerativeModel, len(keys))}
	for _, key := range keys {
		if _, ok := g.models[key]; ok {
			continue
		}
		client, err := genai.NewClient(ctx, option.WithAPIKey(key))
		if err != nil {
			g.Close()
			return nil, err
		}
		model := client.GenerativeModel(modelName)
		model.SetTemperature(0)

		g.clients = append(g.clients, client)
		g.models[key] = model
	}
	return g, nil
}

func (g *Gemini) ClassifyText(ctx context.Context, credential, text string) (string, error) {
	return g.generate(ctx, credential, "firewall.md", struct{ Text string }{text})
}

func (g *Gemini) ClassifyStartup(ctx context.Context, credential, key, name, value string) (string, error) {
	return g.generate(ctx, credential, "startup.md", struct{ Key, Name, Value string }{key, name, value})
}

func (g *Gemini) ClassifyEvents(ctx context.Context, credential string, log EventLog, ids []int) (json.RawMessage, error) {
	list := make([]string, len(ids))
	for i, id := range ids {
		list[i] = strconv.Itoa(id)
	}
	out, err := g.generate(ctx, credential, eventPrompt(log), struct{ IDs string }{strings.Join(list, ", ")})
	if err != nil {
		return nil, err
	}
	return annotation(out), nil
}

func (g *Gemini) generate(ctx context.Context, credential, prompt string, data any) (string, error) {
	model, ok := g.models[credential]
	if !ok {
		return "", errors.New("gemini: credential not in pool")
	}
	text, err := renderPrompt(prompt, data)
	if err != nil {
		return "", err
	}
	resp, err := model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func (g *Gemini) Close() {
	for _, c := range g.clients {
		c.Close()
	}
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty response")
	}
	return b.String(), nil
}

// annotation turns a model answer into a JSON value. Markdown fences are
// stripped; anything that still is not JSON is kept as a JSON string.
func annotation(answer string) json.RawMessage {
	s := strings.TrimSpace(answer)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(strings.TrimSpace(answer))
	return quoted
}

// ListModels lists the Gemini models visible to apiKey.
func ListModels(ctx context.Context, apiKey string) ([]string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	defer client.Close()

	iter := client.ListModels(ctx)
	var names []string
	for {
		m, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.Contains(m.Name, "gemini") {
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
	}
	return names, nil
}
