package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/ahmkhn/klaviyo-nexus/session"
	"github.com/ahmkhn/klaviyo-nexus/tools"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		if region := os.Getenv("AWS_REGION"); region != "" {
			cfg.Region = region
		} else {
			cfg.Region = "us-east-1"
		}
	}
	return &BedrockLLMClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	anthropicMessages, systemPrompt := convertMessagesToBedrockFormat(messages)

	requestBody, err := createBedrockRequest(anthropicMessages, systemPrompt, availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

// convertMessagesToBedrockFormat converts our internal message format to the
// Anthropic-on-Bedrock request format.
func convertMessagesToBedrockFormat(messages []session.Message) ([]map[string]interface{}, string) {
	var anthropicMessages []map[string]interface{}
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case "user":
			anthropicMessages = append(anthropicMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": msg.Content},
				},
			})
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var toolUses []map[string]interface{}
				for _, tc := range msg.ToolCalls {
					toolUses = append(toolUses, map[string]interface{}{
						"type":  "tool_use",
						"id":    tc.ToolCallID,
						"name":  tc.Name,
						"input": tc.Args,
					})
				}
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role":    "assistant",
					"content": toolUses,
				})
			} else if msg.Content != "" {
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role": "assistant",
					"content": []map[string]interface{}{
						{"type": "text", "text": msg.Content},
					},
				})
			}
		case "tool":
			if len(msg.ToolCalls) > 0 {
				anthropicMessages = append(anthropicMessages, map[string]interface{}{
					"role": "user",
					"content": []map[string]interface{}{
						{
							"type":        "tool_result",
							"tool_use_id": msg.ToolCalls[0].ToolCallID,
							"content":     msg.Content,
						},
					},
				})
			}
		case "system":
			systemPrompt = msg.Content
		}
	}

	return anthropicMessages, systemPrompt
}

// createBedrockRequest creates the request body for Anthropic models on
// Bedrock, carrying each tool's declared input schema.
func createBedrockRequest(messages []map[string]interface{}, systemPrompt string, availableTools []tools.Tool) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          messages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if len(availableTools) > 0 {
		var toolDefs []map[string]interface{}
		for _, t := range availableTools {
			toolDefs = append(toolDefs, map[string]interface{}{
				"name":         t.Name(),
				"description":  t.Description(),
				"input_schema": t.InputSchema().Map(),
			})
		}
		request["tools"] = toolDefs
	}
	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into our internal
// session.Message format.
func processBedrockResponse(body []byte) (*session.Message, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	content, ok := response["content"]
	if !ok {
		return &session.Message{Role: "assistant", Content: ""}, nil
	}
	contentArray, ok := content.([]interface{})
	if !ok {
		return nil, errors.New("unexpected content format in Bedrock response")
	}

	var responseContent string
	var toolCalls []session.ToolCall

	for i, item := range contentArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				responseContent += text
			}
		case "tool_use":
			name, _ := itemMap["name"].(string)
			if name == "" {
				continue
			}
			id, _ := itemMap["id"].(string)
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, name)
			}
			input, _ := itemMap["input"].(map[string]interface{})
			raw, _ := json.Marshal(input)
			toolCalls = append(toolCalls, session.ToolCall{
				ToolCallID: id,
				Name:       name,
				Args:       input,
				RawArgs:    string(raw),
			})
		}
	}

	return &session.Message{
		Role:      "assistant",
		Content:   responseContent,
		ToolCalls: toolCalls,
	}, nil
}
