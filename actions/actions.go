// Package actions maps agent events onto the fixed set of persisted action
// categories and derives display metadata from tool outputs.
package actions

import (
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/tools"
)

// Category is a persisted action category.
type Category string

const (
	CategoryContextRead       Category = "context_read"
	CategoryContextSummarized Category = "context_summarized"
	CategoryStatusChanged     Category = "status_changed"
	CategoryUrgencyChanged    Category = "urgency_changed"
	CategoryCategoryChanged   Category = "category_changed"
	CategoryDraftCreated      Category = "draft_created"
	CategoryDraftApproved     Category = "draft_approved"
	CategoryDraftRejected     Category = "draft_rejected"
	CategoryDraftSent         Category = "draft_sent"
	CategoryEscalationFlagged Category = "escalation_flagged"
	CategoryAssigned          Category = "assigned"
	CategoryArchived          Category = "archived"
	CategoryNoteCreated       Category = "note_created"
	CategoryNoteUpdated       Category = "note_updated"
	CategoryNoteDeleted       Category = "note_deleted"
	CategoryAgentFinalized    Category = "agent_finalized"
)

// DefaultCategory is used for event types with no mapping.
const DefaultCategory = CategoryContextRead

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryContextRead, CategoryContextSummarized, CategoryStatusChanged,
		CategoryUrgencyChanged, CategoryCategoryChanged, CategoryDraftCreated,
		CategoryDraftApproved, CategoryDraftRejected, CategoryDraftSent,
		CategoryEscalationFlagged, CategoryAssigned, CategoryArchived,
		CategoryNoteCreated, CategoryNoteUpdated, CategoryNoteDeleted,
		CategoryAgentFinalized,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories() {
		if c == k {
			return true
		}
	}
	return false
}

// Helpdesk-side event types written by human agents rather than tools.
const (
	TypeStatusChanged = "update_thread_status"
	TypeDraftApproved = "approve_draft"
	TypeDraftRejected = "reject_draft"
	TypeDraftSent     = "send_draft"
	TypeAssigned      = "assign_thread"
	TypeArchived      = "archive_thread"
	TypeNoteUpdated   = "update_note"
	TypeNoteDeleted   = "delete_note"
)

var eventCategories = map[string]Category{
	"thread_started":           CategoryContextRead,
	"email_processed":          CategoryContextRead,
	"customer_message":         CategoryContextRead,
	tools.SearchKnowledgeBase:  CategoryContextRead,
	tools.SummarizeContext:     CategoryContextSummarized,
	tools.UpdateThreadUrgency:  CategoryUrgencyChanged,
	tools.UpdateThreadCategory: CategoryCategoryChanged,
	tools.DraftReply:           CategoryDraftCreated,
	tools.FlagForHuman:         CategoryEscalationFlagged,
	tools.AddNote:              CategoryNoteCreated,
	tools.Finalize:             CategoryAgentFinalized,
	TypeStatusChanged:          CategoryStatusChanged,
	TypeDraftApproved:          CategoryDraftApproved,
	TypeDraftRejected:          CategoryDraftRejected,
	TypeDraftSent:              CategoryDraftSent,
	TypeAssigned:               CategoryAssigned,
	TypeArchived:               CategoryArchived,
	TypeNoteUpdated:            CategoryNoteUpdated,
	TypeNoteDeleted:            CategoryNoteDeleted,
}

// MapEventTypeToAction returns the category for an event type. It never
// fails: unknown types map to DefaultCategory with a warning.
func MapEventTypeToAction(eventType string) Category {
	if c, ok := eventCategories[eventType]; ok {
		return c
	}
	logger.Warn("unmapped event type, using default category", "type", eventType, "category", DefaultCategory)
	return DefaultCategory
}

// IsDraftComposition reports whether events of this type write a draft reply.
func IsDraftComposition(eventType string) bool {
	return eventType == tools.DraftReply
}
