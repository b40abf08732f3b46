package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRunID         = "run_id"
	FieldJob           = "job"
	FieldTemplateID    = "template_id"
	FieldAccountID     = "account_id"
	FieldSourceAccount = "source_account_id"
	FieldTransactionID = "transaction_id"
	FieldInvestmentID  = "investment_id"
	FieldISIN          = "isin"
	FieldTicker        = "ticker"
	FieldAmount        = "amount"
	FieldBalance       = "balance"
	FieldShortfall     = "shortfall"
	FieldKind          = "kind"
	FieldOrigin        = "origin"
	FieldExchange      = "exchange"
	FieldQueue         = "queue"
	FieldAsOf          = "as_of"
	FieldNextDate      = "next_date"
	FieldDue           = "due"
	FieldProcessed     = "processed"
	FieldChecked       = "checked"
	FieldTransferred   = "transferred"
	FieldTotal         = "total"
	FieldUpdated       = "updated"
	FieldFailed        = "failed"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
)

// Components defines standard component names
const (
	ComponentScheduler = "scheduler"
	ComponentEvents    = "events"
)
