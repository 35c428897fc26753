package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const summaryFailureModel = "claude-3-5-haiku-20241022"

// classifySummaryFailure turns a raw summary-generation error into a short,
// human-readable line for the metadata record. It tries a single cheap
// Haiku call to paraphrase the error; any problem getting there (no API
// key, network, timeout) falls back to the raw error text. This is
// deliberately best-effort and never blocks the outer loop for long.
func classifySummaryFailure(ctx context.Context, rawErr error) string {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Sprintf("summary generation failed: %v", rawErr)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	prompt := fmt.Sprintf("In one short sentence, describe this error for a log line a human will read: %v", rawErr)

	resp, err := client.Messages.New(checkCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(summaryFailureModel),
		MaxTokens: int64(100),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return fmt.Sprintf("summary generation failed: %v", rawErr)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return fmt.Sprintf("summary generation failed: %v", rawErr)
	}
	return fmt.Sprintf("summary generation failed: %s", text)
}
