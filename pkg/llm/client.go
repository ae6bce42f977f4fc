// Package llm wraps the chat-completions vendor behind typed,
// schema-constrained calls used by the event analyzer and the daily
// reflection pass.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// OngoingEventOutput is the model's read on an event still in progress.
// Classification fields are deliberately absent; those are only decided when
// the event completes.
type OngoingEventOutput struct {
	EventTitle   string `json:"event_title"`
	EventSummary string `json:"event_summary"`
	EventStory   string `json:"event_story"`
}

// CompletedEventOutput is the model's full read on a finished event.
type CompletedEventOutput struct {
	EventTitle         string   `json:"event_title"`
	EventSummary       string   `json:"event_summary"`
	EventStory         string   `json:"event_story"`
	Location           string   `json:"location"`
	PeopleInvolved     []string `json:"people_involved"`
	ActivityType       string   `json:"activity_type"`
	InteractionDynamic string   `json:"interaction_dynamic"`
	InferredImpact     string   `json:"inferred_impact"`
	Topics             []string `json:"topics"`
	MoodLabels         []string `json:"mood_labels"`
	OneLiner           string   `json:"one_liner"`
	ActionItem         string   `json:"action_item"`
	MoodScore          int      `json:"mood_score"`
	StressLevel        int      `json:"stress_level"`
	EnergyLevel        int      `json:"energy_level"`
}

// Client calls the chat-completions API with structured outputs.
type Client struct {
	api   openai.Client
	model string
}

// NewClient builds a client for the given model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		api:   openai.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

const systemPrompt = `You analyze transcripts from a personal audio lifelog.
Each transcript line is prefixed with a [HH:MM] time marker. Write in third
person about the wearer. Be concrete and faithful to the transcript; never
invent people, places, or activities that are not supported by it.`

// AnalyzeOngoing summarizes an event that is still accumulating transcript.
// priorStory carries the story so far for continued events; empty for new
// ones.
func (c *Client) AnalyzeOngoing(ctx context.Context, transcript, priorStory string) (*OngoingEventOutput, error) {
	prompt := "Summarize the ongoing activity in this transcript.\n"
	if priorStory != "" {
		prompt += "\nThe story so far:\n" + priorStory + "\n"
	}
	prompt += "\nTranscript:\n" + transcript

	var out OngoingEventOutput
	if err := c.complete(ctx, "ongoing_event", ongoingEventSchema, prompt, &out); err != nil {
		return nil, fmt.Errorf("analyze ongoing event: %w", err)
	}
	return &out, nil
}

// AnalyzeCompleted produces the final classification for a finished event.
func (c *Client) AnalyzeCompleted(ctx context.Context, transcript, priorStory string) (*CompletedEventOutput, error) {
	prompt := "This activity has ended. Produce its final summary and classification.\n"
	if priorStory != "" {
		prompt += "\nThe story so far:\n" + priorStory + "\n"
	}
	prompt += "\nTranscript:\n" + transcript

	var out CompletedEventOutput
	if err := c.complete(ctx, "completed_event", completedEventSchema, prompt, &out); err != nil {
		return nil, fmt.Errorf("analyze completed event: %w", err)
	}
	return &out, nil
}

// DailyReflection writes a first-person reflection over one day's events.
func (c *Client) DailyReflection(ctx context.Context, date, eventDigest string) (*models.ReflectionContent, error) {
	prompt := fmt.Sprintf(`Write a short first-person evening reflection for %s
based on these events. Ground every item in an actual event.

Events:
%s`, date, eventDigest)

	var out models.ReflectionContent
	if err := c.complete(ctx, "daily_reflection", reflectionSchema, prompt, &out); err != nil {
		return nil, fmt.Errorf("daily reflection: %w", err)
	}
	return &out, nil
}

func (c *Client) complete(ctx context.Context, name string, schema map[string]any, prompt string, out any) error {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Strict: openai.Bool(true),
					Schema: schema,
				},
			},
		},
	})
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("completion returned no choices")
	}
	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode %s output: %w", name, err)
	}
	return nil
}
