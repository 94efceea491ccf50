package core

import "bizdir/pkg/domain"

type (
	BusinessRecord  = domain.BusinessRecord
	ChangeRequest   = domain.ChangeRequest
	TaxonomyEntry   = domain.TaxonomyEntry
	FieldInput      = domain.FieldInput
	UploadFile      = domain.UploadFile
	ImageAsset      = domain.ImageAsset
	Product         = domain.Product
	HistoryEntry    = domain.HistoryEntry
	Change          = domain.Change
	Result          = domain.Result
	Violation       = domain.Violation
	Rule            = domain.Rule
	RuleView        = domain.RuleView
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
