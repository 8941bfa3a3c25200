package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"lumina.app/backend/internal/store"
)

const (
	chatModelName = "gemini-2.5-flash"

	// historyLimit bounds the context sent to the model to the last five
	// user/model turn pairs.
	historyLimit = 10

	titleMaxLen = 30

	connectionApology = "I'm having trouble connecting to my brain right now."

	systemInstruction = `You are Lumina, a Digital Student Companion that supports students academically, emotionally, and personally.

Personality and tone:
- Empathetic, calm, and encouraging. Friendly but professional.
- Patient, respectful, and non-judgmental.

Behavioral principles:
- Acknowledge emotions such as stress or confusion before offering solutions.
- Use the conversation history and the "User Profile Context" block, when present, to remember the student's previous challenges, preferences, and goals.
- Prefer guided learning: break problems into steps and ask guiding questions rather than handing over final answers, unless the student explicitly asks for one.
- Reinforce effort and progress; encourage a growth mindset.
- Do not provide medical or psychological diagnoses, and do not assist with academic dishonesty.

Output format rules (mandatory):

You must ALWAYS return a valid JSON object. No markdown formatting, no plain text outside the JSON. The structure must be:

{
  "title": "...",          // Generate ONLY for the very first message of a new chat. Otherwise null.
  "response": "...",       // The assistant's natural language response to the user.
  "new_user_facts": "..."  // Any NEW, PERMANENT facts about the user learned from THIS message. If none, use null.
}

Detailed instructions:
1. "title": 3-6 words, Title Case, only for the very first user message of a chat; null for all later messages.
2. "response": your helpful, empathetic response. Standard markdown (bold, bullets, code blocks) is allowed WITHIN this string; escape special characters correctly for JSON.
3. "new_user_facts": concrete durable facts only (e.g. "User studies CS", "User struggles with Arrays"). Return null for generic messages ("hi", "thanks", "explain this"). DO NOT repeat facts already present in the "User Profile Context".`
)

// TurnResult is what one model call produced. Title and NewUserFacts are
// nil whenever the model did not supply them, including every degraded
// parse path.
type TurnResult struct {
	Response     string
	Title        *string
	NewUserFacts *string
}

// Completer is the boundary to the remote model. Implementations never
// return an error: transport and contract failures degrade to an
// apologetic TurnResult instead.
type Completer interface {
	Complete(ctx context.Context, history []store.Message, userMessage, profile string) TurnResult
}

// LLMService wraps the Gemini client behind the Completer contract.
type LLMService struct {
	client *genai.Client
}

func NewLLMService(ctx context.Context, apiKey string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
	}
}

func (s *LLMService) Complete(ctx context.Context, history []store.Message, userMessage, profile string) TurnResult {
	effective := userMessage
	if profile != "" {
		effective = fmt.Sprintf("User Profile Context:\n%s\n\nUser Query:\n%s", profile, userMessage)
	}

	model := s.client.GenerativeModel(chatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	session := model.StartChat()
	session.History = toGenaiHistory(trimHistory(history, historyLimit))

	resp, err := session.SendMessage(ctx, genai.Text(effective))
	if err != nil {
		log.Printf("Gemini chat SendMessage failed: %v", err)
		return TurnResult{Response: connectionApology}
	}

	text := strings.TrimSpace(collectText(resp))
	if text == "" {
		log.Println("Gemini response was empty or had no text parts.")
		return TurnResult{Response: connectionApology}
	}

	return parseModelOutput(text)
}

// trimHistory keeps the most recent limit messages.
func trimHistory(history []store.Message, limit int) []store.Message {
	if len(history) > limit {
		return history[len(history)-limit:]
	}
	return history
}

func toGenaiHistory(history []store.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		parts := make([]genai.Part, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			parts = append(parts, genai.Text(p))
		}
		contents = append(contents, &genai.Content{Role: msg.Role, Parts: parts})
	}
	return contents
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

type modelPayload struct {
	Title        *string `json:"title"`
	Response     *string `json:"response"`
	NewUserFacts *string `json:"new_user_facts"`
}

// parseModelOutput enforces the three-key JSON contract with two degraded
// paths: a missing "response" key falls back to the raw text, and a text
// that is not JSON at all becomes the response verbatim with no title or
// facts extracted. Markdown code fences around the JSON are tolerated and
// stripped before parsing.
func parseModelOutput(text string) TurnResult {
	var payload modelPayload
	if err := json.Unmarshal([]byte(stripFences(text)), &payload); err != nil {
		log.Printf("model output was not valid JSON, using raw text: %.100s", text)
		return TurnResult{Response: text}
	}

	result := TurnResult{
		Response:     text,
		Title:        payload.Title,
		NewUserFacts: payload.NewUserFacts,
	}
	if payload.Response != nil {
		result.Response = *payload.Response
	}
	return result
}

func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	return strings.TrimSpace(clean)
}

// FallbackTitle derives a chat title from the user's first message when
// the model did not supply one: the first 30 characters, with an ellipsis
// marker when truncated.
func FallbackTitle(userMessage string) string {
	runes := []rune(userMessage)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen]) + "..."
	}
	return userMessage
}
