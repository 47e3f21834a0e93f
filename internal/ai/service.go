// Package ai generates clinical insights from session notes using an LLM,
// with a keyword-based fallback when the model is unavailable.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// NoteAnalysis is the result of analyzing a single session note.
type NoteAnalysis struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// Service calls the chat completion API for note analysis and client insights.
// A Service with no API key is still usable; it falls back to keyword tagging.
type Service struct {
	client *openai.Client
	model  string
}

func NewService(apiKey, model string) *Service {
	if model == "" {
		model = openai.GPT4oMini
	}
	s := &Service{model: model}
	if apiKey != "" {
		s.client = openai.NewClient(apiKey)
	}
	return s
}

// Enabled reports whether the LLM backend is configured.
func (s *Service) Enabled() bool {
	return s.client != nil
}

const notePrompt = `You are a clinical documentation assistant for a therapy practice.
Given a session note, respond with JSON only, in the shape
{"summary": "...", "tags": ["..."]}.
The summary is 1-2 sentences of clinical shorthand. Tags name therapeutic
approaches (CBT, ACT, DBT, Narrative Therapy), clinical themes (Anxiety,
Depression, Trauma, Relationship Issues, Family Dynamics), and treatment
elements (Coping Skills, Homework, Follow-up, Progress). At most 10 tags.`

// AnalyzeNote produces a summary and therapeutic tags for a session note.
// When the model is unavailable or returns garbage, the keyword extractor
// supplies tags and a short extractive summary instead.
func (s *Service) AnalyzeNote(ctx context.Context, content, clientName string) NoteAnalysis {
	if s.client != nil {
		analysis, err := s.analyzeWithModel(ctx, content, clientName)
		if err == nil && analysis.Summary != "" {
			if len(analysis.Tags) > 10 {
				analysis.Tags = analysis.Tags[:10]
			}
			return analysis
		}
		if err != nil {
			log.Printf("ai: note analysis fell back to keywords: %v", err)
		}
	}
	return NoteAnalysis{
		Summary: ExtractiveSummary(content),
		Tags:    KeywordTags(content),
	}
}

func (s *Service) analyzeWithModel(ctx context.Context, content, clientName string) (NoteAnalysis, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: notePrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Client: %s\n\n%s", clientName, content)},
		},
	})
	if err != nil {
		return NoteAnalysis{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return NoteAnalysis{}, fmt.Errorf("chat completion returned no choices")
	}

	var analysis NoteAnalysis
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &analysis); err != nil {
		return NoteAnalysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return analysis, nil
}

// GenerateClientInsight summarizes themes across a client's recent notes.
func (s *Service) GenerateClientInsight(ctx context.Context, clientName string, notes []string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("ai not configured")
	}
	if len(notes) == 0 {
		return "", fmt.Errorf("no notes to analyze")
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You are a clinical documentation assistant. Summarize the " +
					"treatment trajectory across these session notes in 3-5 sentences: " +
					"presenting concerns, interventions used, and observed progress. " +
					"Write for the treating therapist.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Client: %s\n\n%s", clientName, strings.Join(notes, "\n\n---\n\n")),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ExtractActionItems pulls follow-up tasks out of a session note.
func (s *Service) ExtractActionItems(ctx context.Context, content string) ([]string, error) {
	if s.client == nil {
		return nil, fmt.Errorf("ai not configured")
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: `Extract concrete follow-up tasks for the therapist from this session note.
Respond with JSON only: {"items": ["..."]}. Omit homework assigned to the client.
An empty list is a valid answer.`,
			},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	var parsed struct {
		Items []string `json:"items"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("decode action items: %w", err)
	}
	return parsed.Items, nil
}
