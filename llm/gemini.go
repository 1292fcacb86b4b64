package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/ahmkhn/klaviyo-nexus/session"
	"github.com/ahmkhn/klaviyo-nexus/tools"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	model *genai.GenerativeModel
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiLLMClient{
		model: client.GenerativeModel(modelName),
	}, nil
}

// Chat sends a chat request to the Gemini API.
func (g *GeminiLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	history := convertMessagesToGeminiContent(messages)
	if len(history) == 0 {
		return nil, errors.New("cannot send an empty history to Gemini")
	}

	g.model.Tools = convertToolsToGeminiTools(availableTools)

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := g.model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our internal message format to
// Gemini's. Tool results become FunctionResponse parts on a user-role
// message, which is how Gemini expects them back.
func convertMessagesToGeminiContent(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			parts := []genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case "tool":
			if len(msg.ToolCalls) != 1 {
				continue
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     msg.ToolCalls[0].Name,
					Response: map[string]interface{}{"result": msg.Content},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	return contents
}

// convertToolsToGeminiTools converts our Tool interface to Gemini's
// FunctionDeclaration format, translating each declared input schema.
func convertToolsToGeminiTools(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, t := range ts {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  geminiSchema(t.InputSchema()),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

func geminiSchema(s tools.Schema) *genai.Schema {
	out := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{},
	}
	for name, prop := range s.Properties {
		out.Properties[name] = &genai.Schema{
			Type:        geminiType(prop.Type),
			Description: prop.Description,
		}
	}
	out.Required = append([]string(nil), s.Required...)
	return out
}

func geminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeObject
	}
}

// processGeminiResponse converts a Gemini API response into our internal
// session.Message format. Gemini does not assign call ids, so one is
// synthesized per requested call.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*session.Message, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	var responseContent string
	var toolCalls []session.ToolCall

	for i, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			responseContent += string(v)
		case genai.FunctionCall:
			raw, _ := json.Marshal(v.Args)
			toolCalls = append(toolCalls, session.ToolCall{
				ToolCallID: fmt.Sprintf("call_%d_%s", i, v.Name),
				Name:       v.Name,
				Args:       v.Args,
				RawArgs:    string(raw),
			})
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}

	return &session.Message{
		Role:      "assistant",
		Content:   responseContent,
		ToolCalls: toolCalls,
	}, nil
}
