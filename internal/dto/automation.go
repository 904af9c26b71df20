package dto

// OperationResult is returned by every management operation.
type OperationResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SendDailyMessagesRequest optionally pins the digest to one rule.
type SendDailyMessagesRequest struct {
	RuleID string `json:"rule_id"`
}

// AutomationEventRequest reports a domain event to event-triggered rules.
type AutomationEventRequest struct {
	TriggerType string `json:"trigger_type" binding:"required,oneof=course-start course-end new-user"`
	EntityID    string `json:"entity_id" binding:"required"`
}

// AutomationLogQuery filters the automation log.
type AutomationLogQuery struct {
	Type      string `form:"type"`
	RelatedID string `form:"related_id"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=5000"`
	Format    string `form:"format" binding:"omitempty,oneof=csv pdf"`
}

// ActivityQuery limits the activity feed.
type ActivityQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// UpdateSettingRequest sets a runtime setting value.
type UpdateSettingRequest struct {
	Value string `json:"value" binding:"required"`
}
