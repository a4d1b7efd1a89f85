package logging

// Standardized field names for structured logging.
const (
	FieldWorkspaceID   = "workspace_id"
	FieldRuleID        = "rule_id"
	FieldRuleName      = "rule_name"
	FieldConditionID   = "condition_id"
	FieldConditionType = "condition_type"
	FieldActionType    = "action_type"
	FieldTransactionID = "transaction_id"
	FieldStage         = "stage"
	FieldField         = "field"
	FieldKeyword       = "keyword"
	FieldReason        = "reason"
	FieldOperation     = "operation"
	FieldStatus        = "status"
	FieldError         = "error"
	FieldDuration      = "duration_ms"
	FieldCount         = "count"
	FieldWorkers       = "workers"
	FieldInputFile     = "input_file"
	FieldOutputFile    = "output_file"
	FieldAddr          = "addr"
)
