package services

import (
	"context"
	"fmt"

	"github.com/aiwuxian/chronica/internal/models"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
)

// Completer 单次文本补全。一次请求只尝试一次，失败由调用方兜底，不做重试。
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMService 文本生成传输层，按配置选择openai兼容接口或gemini
type LLMService struct {
	config models.LLMConfig

	openaiClient *openai.Client
	geminiClient *genai.Client
	geminiModel  *genai.GenerativeModel
}

func NewLLMService(config models.LLMConfig) *LLMService {
	s := &LLMService{config: config}

	if config.Provider != "gemini" {
		clientConfig := openai.DefaultConfig(config.APIKey)
		if config.APIBase != "" {
			clientConfig.BaseURL = config.APIBase
		}
		s.openaiClient = openai.NewClientWithConfig(clientConfig)
	}

	return s
}

// Complete 发送单条用户prompt，返回模型文本
func (s *LLMService) Complete(ctx context.Context, prompt string) (string, error) {
	if s.config.Provider == "gemini" {
		return s.completeGemini(ctx, prompt)
	}
	return s.completeOpenAI(ctx, prompt)
}

func (s *LLMService) completeOpenAI(ctx context.Context, prompt string) (string, error) {
	resp, err := s.openaiClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("请求生成接口失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("生成接口返回空结果")
	}

	return resp.Choices[0].Message.Content, nil
}

func (s *LLMService) completeGemini(ctx context.Context, prompt string) (string, error) {
	// gemini客户端需要ctx，首次调用时创建
	if s.geminiModel == nil {
		client, err := genai.NewClient(ctx, option.WithAPIKey(s.config.APIKey))
		if err != nil {
			return "", fmt.Errorf("创建gemini客户端失败: %w", err)
		}
		model := client.GenerativeModel(s.config.Model)
		model.SetTemperature(s.config.Temperature)
		if s.config.MaxTokens > 0 {
			model.SetMaxOutputTokens(int32(s.config.MaxTokens))
		}
		s.geminiClient = client
		s.geminiModel = model
	}

	resp, err := s.geminiModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("请求gemini失败: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini返回空结果")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("gemini返回了非文本内容")
	}

	return string(text), nil
}

// Close 释放底层客户端
func (s *LLMService) Close() {
	if s.geminiClient != nil {
		s.geminiClient.Close()
	}
}
