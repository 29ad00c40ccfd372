package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linanwx/supportbot/kb"
)

// Standard support tool names.
const (
	SearchKnowledgeBase  = "search_knowledge_base"
	SummarizeContext     = "summarize_context"
	UpdateThreadUrgency  = "update_thread_urgency"
	UpdateThreadCategory = "update_thread_category"
	DraftReply           = "draft_reply"
	FlagForHuman         = "flag_for_human"
	AddNote              = "add_note"
	Finalize             = "finalize"
)

var (
	urgencyLevels = []string{"low", "medium", "high", "critical"}
	categories    = []string{"billing", "technical", "account", "feature_request", "bug_report", "general"}
	sentiments    = []string{"positive", "neutral", "negative", "frustrated"}
	tones         = []string{"formal", "friendly", "empathetic"}
)

// Searcher is the knowledge-base capability search_knowledge_base needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]kb.Hit, error)
}

// NewSupportRegistry builds a registry holding the eight standard support
// tools. A nil searcher makes search_knowledge_base fail at run time, which
// is fine for eval runs that never execute tools.
func NewSupportRegistry(searcher Searcher) *Registry {
	r := NewRegistry()
	r.MustRegister(&SearchKnowledgeBaseTool{searcher: searcher})
	r.MustRegister(&SummarizeContextTool{})
	r.MustRegister(&UpdateThreadUrgencyTool{})
	r.MustRegister(&UpdateThreadCategoryTool{})
	r.MustRegister(&DraftReplyTool{})
	r.MustRegister(&FlagForHumanTool{})
	r.MustRegister(&AddNoteTool{})
	r.MustRegister(&FinalizeTool{})
	return r
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func enumProp(description string, values []string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// ============================================================================
// SearchKnowledgeBaseTool
// ============================================================================

// SearchKnowledgeBaseTool looks up help-center articles.
type SearchKnowledgeBaseTool struct {
	searcher Searcher
}

// Def returns the tool definition.
func (t *SearchKnowledgeBaseTool) Def() Def {
	return Def{
		Name:        SearchKnowledgeBase,
		Description: "Search the help-center knowledge base for articles relevant to the customer's problem.",
		Args: Schema{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Keywords describing the problem.",
					"minLength":   1,
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of articles to return (default 5).",
					"minimum":     1,
					"maximum":     20,
				},
			},
			"required": []string{"query"},
		},
		Result: Schema{
			"type": "object",
			"properties": map[string]any{
				"articles":     map[string]any{"type": "array"},
				"source_count": map[string]any{"type": "integer"},
			},
		},
	}
}

// Run executes the tool.
func (t *SearchKnowledgeBaseTool) Run(ctx context.Context, args map[string]any) (any, error) {
	if t.searcher == nil {
		return nil, errors.New("knowledge base not configured")
	}
	limit := 5
	if n, ok := toFloat(args["limit"]); ok && n > 0 {
		limit = int(n)
	}
	hits, err := t.searcher.Search(ctx, stringArg(args, "query"), limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if hits == nil {
		hits = []kb.Hit{}
	}
	return map[string]any{
		"articles":     hits,
		"source_count": len(hits),
	}, nil
}

// ============================================================================
// SummarizeContextTool
// ============================================================================

// SummarizeContextTool records the model's summary of the thread so far.
type SummarizeContextTool struct{}

// Def returns the tool definition.
func (t *SummarizeContextTool) Def() Def {
	return Def{
		Name:        SummarizeContext,
		Description: "Record a short summary of the conversation and the customer's sentiment.",
		Args: Schema{
			"type": "object",
			"properties": map[string]any{
				"summary":   stringProp("Two or three sentences summarizing the thread."),
				"sentiment": enumProp("Customer sentiment.", sentiments),
				"key_points": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"summary"},
		},
		Result: Schema{
			"type": "object",
			"properties": map[string]any{
				"summary":   map[string]any{"type": "string"},
				"sentiment": map[string]any{"type": "string"},
			},
		},
	}
}

// Run executes the tool.
func (t *SummarizeContextTool) Run(_ context.Context, args map[string]any) (any, error) {
	out := map[string]any{"summary": stringArg(args, "summary")}
	if s := stringArg(args, "sentiment"); s != "" {
		out["sentiment"] = s
	}
	if kp, ok := args["key_points"].([]any); ok {
		out["key_points"] = kp
	}
	return out, nil
}

// ============================================================================
// UpdateThreadUrgencyTool
// ============================================================================

// UpdateThreadUrgencyTool changes the thread's urgency.
type UpdateThreadUrgencyTool struct{}

// Def returns the tool definition.
func (t *UpdateThreadUrgencyTool) Def() Def {
	return Def{
		Name:        UpdateThreadUrgency,
		Description: "Set the urgency of the support thread.",
		Args: Schema{
			"type": "object",
			"properties": map[string]any{
				"urgency": enumProp("New urgency level.", urgencyLevels),
				"reason":  stringProp("Why the urgency changed."),
			},
			"required": []string{"urgency"},
		},
		Result: Schema{
			"type": "object",
			"properties": map[string]any{
				"urgency":            map[string]any{"type": "string"},
				"suggested_priority": map[string]any{"type": "string"},
			},
		},
	}
}

// Run executes the tool.
func (t *UpdateThreadUrgencyTool) Run(_ context.Context, args map[string]any) (any, error) {
	urgency := stringArg(args, "urgency")
	return map[string]any{
		"urgency":            urgency,
		"reason":             stringArg(args, "reason"),
		"suggested_priority": urgency,
	}, nil
}

// ============================================================================
// UpdateThreadCategoryTool
// ============================================================================

// UpdateThreadCategoryTool changes the thread's category.
type UpdateThreadCategoryTool struct{}

// Def returns the tool definition.
func (t *UpdateThreadCategoryTool) Def() Def {
	return Def{
		Name:        UpdateThreadCategory,
		Description: "Set the category of the support thread.",
		Args: Schema{
			"type": "object",
			"properties": map[string]any{
				"category": enumProp("New category.", categories),
				"reason":   stringProp("Why this category fits."),
			},
			"required": []string{"category"},
		},
		Result: Schema{
			"type":       "object",
			"properties": map[string]any{"category": map[string]any{"type": "string"}},
		},
	}
}

// Run executes the tool.
func (t *UpdateThreadCategoryTool) Run(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"category": stringArg(args, "category"),
		"reason":   stringArg(args, "reason"),
	}, nil
}

// ============================================================================
// DraftReplyTool
// ============================================================================

// DraftReplyTool composes a reply for a human agent to review.
type DraftReplyTool struct{}

// Def returns the tool definition.
func (t *DraftReplyTool) Def() Def {
	return Def{
		Name:        DraftReply,
		Description: "Draft a reply to the customer. Markdown is allowed. The draft is reviewed before sending.",
		Args: Schema{
			"type": "object",
			"properties": map[string]any{
				"body": map[string]any{
					"type":        "string",
					"description": "Reply body in Markdown.",
					"minLength":   1,
				},
				"tone": enumProp("Tone of the reply.", tones),
				"confidence": map[string]any{
					"type":        "number",
					"description": "Confidence the reply resolves the issue, 0 to 1.",
					"minimum":     0,
					"maximum":     1,
				},
			},
			"required": []string{"body"},
		},
		Result: Schema{
			"type": "object",
			"properties": map[string]any{
				"body":       map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "number"},
			},
		},
	}
}

// Run executes the tool.
func (t *DraftReplyTool) Run(_ context.Context, args map[string]any) (any, error) {
	body := stringArg(args, "body")
	if body == "" {
		return nil, errors.New("draft body is empty")
	}
	out := map[string]any{"body": body}
	if tone := stringArg(args, "tone"); tone != "" {
		out["tone"] = tone
	}
	if c, ok := toFloat(args["confidence"]); ok {
		out["confidence"] = c
	}
	return out, nil
}

// ============================================================================
// FlagForHumanTool
// ============================================================================

// FlagForHumanTool escalates the thread to a human agent.
type FlagForHumanTool struct{}

// Def returns the tool definition.
func (t *FlagForHumanTool) Def() Def {
	return Def{
		Name:        FlagForHuman,
		Description: "Escalate the thread to a human agent when the issue cannot be resolved automatically.",
		Args: Schema{
			"type": "object",
			"properties": map[string]any{
				"reason":   stringProp("Why a human is needed."),
				"priority": enumProp("Suggested priority.", urgencyLevels),
			},
			"required": []string{"reason"},
		},
		Result: Schema{
			"type": "object",
			"properties": map[string]any{
				"needs_escalation":   map[string]any{"type": "boolean"},
				"suggested_priority": map[string]any{"type": "string"},
			},
		},
	}
}

// Run executes the tool.
func (t *FlagForHumanTool) Run(_ context.Context, args map[string]any) (any, error) {
	priority := stringArg(args, "priority")
	if priority == "" {
		priority = "medium"
	}
	return map[string]any{
		"needs_escalation":   true,
		"reason":             stringArg(args, "reason"),
		"suggested_priority": priority,
	}, nil
}

// ============================================================================
// AddNoteTool
// ============================================================================

// AddNoteTool attaches an internal note to the thread.
type AddNoteTool struct{}

// Def returns the tool definition.
func (t *AddNoteTool) Def() Def {
	return Def{
		Name:        AddNote,
		Description: "Add an internal note to the thread. Customers never see notes.",
		Args: Schema{
			"type": "object",
			"properties": map[string]any{
				"body": map[string]any{"type": "string", "minLength": 1},
			},
			"required": []string{"body"},
		},
		Result: Schema{
			"type":       "object",
			"properties": map[string]any{"body": map[string]any{"type": "string"}},
		},
	}
}

// Run executes the tool.
func (t *AddNoteTool) Run(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{"body": stringArg(args, "body")}, nil
}

// ============================================================================
// FinalizeTool
// ============================================================================

// FinalizeTool ends the agent run.
type FinalizeTool struct{}

// Def returns the tool definition.
func (t *FinalizeTool) Def() Def {
	return Def{
		Name:        Finalize,
		Description: "Finish working on the thread. Call this once no further action is useful.",
		Args: Schema{
			"type": "object",
			"properties": map[string]any{
				"summary": stringProp("What was done, for the human agent."),
			},
		},
		Result: Schema{
			"type":       "object",
			"properties": map[string]any{"status": map[string]any{"type": "string"}},
		},
	}
}

// Run executes the tool.
func (t *FinalizeTool) Run(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"status":  "finalized",
		"summary": stringArg(args, "summary"),
	}, nil
}
