package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
	"autopilot/internal/infra/metrics"
)

const compressSystemPrompt = `You maintain the long-term memory of an autonomous agent team.
Summarize the conversation below as a narrative of at most 500 words. Preserve:
- decisions taken and their reasons
- the status of any mission or backlog item
- facts, names, numbers and identifiers that later steps will need
- what each specialist agent has done and what is still pending

Do not reproduce tool-call syntax or JSON. Output ONLY the summary.`

const condenseSystemPrompt = `Condense the following running summary into a single digest of at most %d characters.
Keep open tasks, decisions and identifiers; drop anything already resolved. Output ONLY the digest.`

// Compressor folds old messages of a conversation into its running summary.
type Compressor struct {
	store  domain.ConversationStore
	llm    domain.LLMProvider
	model  string
	cfg    config.CompressionConfig
	bus    domain.EventBus
	logger *slog.Logger
}

// NewCompressor creates a compressor. model is the model asked to summarize;
// bus may be nil.
func NewCompressor(store domain.ConversationStore, llm domain.LLMProvider, model string, cfg config.CompressionConfig, bus domain.EventBus, logger *slog.Logger) *Compressor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 20
	}
	if cfg.KeepTail <= 0 {
		cfg.KeepTail = 10
	}
	if cfg.MaxSummaryChars <= 0 {
		cfg.MaxSummaryChars = 6000
	}
	return &Compressor{store: store, llm: llm, model: model, cfg: cfg, bus: bus, logger: logger}
}

// Compress summarizes everything but the last KeepTail messages once the
// conversation holds more than Threshold messages. It reports whether the
// conversation changed. Summarization failures leave it untouched and are
// not returned as errors.
func (c *Compressor) Compress(ctx context.Context, conversationID string) (bool, error) {
	if !c.cfg.Enabled {
		return false, nil
	}
	n, err := c.store.CountMessages(ctx, conversationID)
	if err != nil {
		return false, domain.WrapOp("Compressor.Compress", err)
	}
	if n <= c.cfg.Threshold {
		return false, nil
	}
	return c.compress(ctx, conversationID)
}

// ForceCompress compresses regardless of the threshold. Used when the
// model rejects a prompt as too long.
func (c *Compressor) ForceCompress(ctx context.Context, conversationID string) (bool, error) {
	return c.compress(ctx, conversationID)
}

func (c *Compressor) compress(ctx context.Context, conversationID string) (bool, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return false, domain.WrapOp("Compressor.Compress", err)
	}
	msgs, err := c.store.Messages(ctx, conversationID)
	if err != nil {
		return false, domain.WrapOp("Compressor.Compress", err)
	}

	cut := splitPoint(msgs, c.cfg.KeepTail)
	if cut <= 0 {
		return false, nil
	}
	head := msgs[:cut]

	fresh, err := c.summarize(ctx, compressSystemPrompt, transcriptText(head))
	if err != nil {
		c.logger.Warn("compression failed, keeping messages", "conversation_id", conversationID, "error", err)
		return false, nil
	}

	merged := fresh
	if conv.Summary != "" {
		merged = "PREVIOUS SUMMARY: " + conv.Summary + "\n\nNEW CONTEXT: " + fresh
	}
	merged = c.capSummary(ctx, conversationID, merged)

	ids := make([]string, len(head))
	for i, m := range head {
		ids[i] = m.ID
	}
	if err := c.store.ReplaceSummary(ctx, conversationID, merged, ids); err != nil {
		return false, domain.WrapOp("Compressor.Compress", err)
	}

	metrics.RecordCompression()
	Publish(ctx, c.bus, domain.EventCompressed, conversationID, map[string]int{
		"summarized": len(head),
		"kept":       len(msgs) - len(head),
	})
	c.logger.Info("conversation compressed",
		"conversation_id", conversationID,
		"summarized", len(head),
		"kept", len(msgs)-len(head),
		"summary_chars", len(merged),
	)
	return true, nil
}

// capSummary keeps the running summary under MaxSummaryChars, first by
// asking the model to condense it, then by dropping its oldest text.
func (c *Compressor) capSummary(ctx context.Context, conversationID, summary string) string {
	limit := c.cfg.MaxSummaryChars
	if len(summary) <= limit {
		return summary
	}
	condensed, err := c.summarize(ctx, fmt.Sprintf(condenseSystemPrompt, limit), summary)
	if err == nil && len(condensed) <= limit {
		return condensed
	}
	if err != nil {
		c.logger.Warn("summary condensation failed, truncating", "conversation_id", conversationID, "error", err)
	} else {
		summary = condensed
	}
	return truncateFront(summary, limit)
}

func (c *Compressor) summarize(ctx context.Context, system, text string) (string, error) {
	resp, err := c.llm.Chat(ctx, domain.ChatRequest{
		Model: c.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: text},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(resp.Message.Content)
	if out == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return out, nil
}

// splitPoint returns how many leading messages to summarize so that
// keepTail remain. The tail never starts with a tool result.
func splitPoint(msgs []domain.Message, keepTail int) int {
	cut := len(msgs) - keepTail
	for cut > 0 && cut < len(msgs) && msgs[cut].Role == domain.RoleTool {
		cut--
	}
	return cut
}

func transcriptText(msgs []domain.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		content := m.Content
		if content == "" && len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				names[i] = tc.Name
			}
			content = "[used tools: " + strings.Join(names, ", ") + "]"
		}
		fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(m.Role), content)
	}
	return sb.String()
}

// truncateFront keeps the last limit bytes of s, starting on a rune boundary.
func truncateFront(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[len(s)-limit:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
