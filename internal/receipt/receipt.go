package receipt

import (
	"fmt"
	"time"
)

// Status of a receipt record in the document store
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage names, in pipeline order
const (
	StageIngest    = "ingest"
	StageExtract   = "extract"
	StageTranslate = "translate"
	StageEmbed     = "embed"
	StagePersist   = "persist"
	StageWallet    = "wallet"
)

// Kind classifies a stage failure
type Kind string

const (
	KindUnauthorized         Kind = "unauthorized"
	KindExtractionFailed     Kind = "extraction_failed"
	KindTranslationFailed    Kind = "translation_failed"
	KindEmbeddingUnavailable Kind = "embedding_unavailable"
	KindIndexUnavailable     Kind = "index_unavailable"
	KindPersistFailed        Kind = "persist_failed"
	KindIssuanceFailed       Kind = "issuance_failed"
)

// StageError is a stage-scoped pipeline failure. It carries the name of the
// stage that failed and an error kind so callers can tell what broke without
// string matching.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Placeholders written when best-effort field extraction comes up empty
const (
	PlaceholderVendor   = "Unknown Vendor"
	PlaceholderValue    = "TBD"
	PlaceholderCategory = "uncategorised"
)

// Record is a receipt document keyed by (owner id, receipt id). Fields
// accumulate as the pipeline advances; a failed run keeps whatever was
// written before the failure.
type Record struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	SourceURI      string    `json:"source_uri"`
	ContentType    string    `json:"content_type,omitempty"`
	RawText        string    `json:"raw_text,omitempty"`
	TranslatedText string    `json:"translated_text,omitempty"`
	SourceLanguage string    `json:"source_language,omitempty"`
	Vendor         string    `json:"vendor,omitempty"`
	PurchaseDate   string    `json:"purchase_date,omitempty"`
	TotalPrice     string    `json:"total_price,omitempty"`
	Category       string    `json:"category,omitempty"`
	LineItems      []string  `json:"line_items,omitempty"`
	Embedded       bool      `json:"embedded,omitempty"`
	Status         Status    `json:"status"`
	FailedStage    string    `json:"failed_stage,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	WalletToken    string    `json:"wallet_token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PipelineContext carries the fields one pipeline run has accumulated so
// far. It is owned by a single run and discarded when the run terminates.
type PipelineContext struct {
	OwnerID        string
	ReceiptID      string
	SourceURI      string
	ContentType    string
	Image          []byte
	RawText        string
	TranslatedText string
	SourceLanguage string
	Vendor         string
	PurchaseDate   string
	TotalPrice     string
	Category       string
	LineItems      []string
	Embedded       bool
	WalletToken    string
}

// Match is one retrieval hit, nearest first when sorted by Distance.
type Match struct {
	ID         string  `json:"id"`
	Distance   float32 `json:"distance"`
	Vendor     string  `json:"vendor"`
	TotalPrice string  `json:"total_price"`
}
