package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/raseedapp/raseed/internal/index"
	"github.com/raseedapp/raseed/internal/providers"
	"github.com/raseedapp/raseed/internal/wallet"
)

// receiptTags scopes index entries (and queries) to receipt vectors
var receiptTags = map[string]string{"category": "receipt"}

// IDGenerator generates unique receipt ids
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Pipeline drives a receipt through the ordered ingestion stages:
// ingest, extract, translate, embed, persist, wallet. Each stage merges its
// fields into the document store before the next stage runs, so a failed run
// leaves a partial record behind for diagnosis and retry. Stage side effects
// are idempotent under re-trigger with the same receipt id: store writes
// merge by key and index writes replace by id.
type Pipeline struct {
	store      DocumentStore
	storage    Storage
	ocr        providers.OCR
	translator providers.Translator
	embedder   providers.Embedder
	index      index.Index
	issuer     wallet.Issuer
	idGen      IDGenerator
	timeSource TimeSource
}

// NewPipeline creates a Pipeline with default id generator and time source
func NewPipeline(store DocumentStore, storage Storage, ocr providers.OCR, translator providers.Translator, embedder providers.Embedder, idx index.Index, issuer wallet.Issuer) *Pipeline {
	return &Pipeline{
		store:      store,
		storage:    storage,
		ocr:        ocr,
		translator: translator,
		embedder:   embedder,
		index:      idx,
		issuer:     issuer,
		idGen:      uuidGenerator{},
		timeSource: defaultTimeSource{},
	}
}

// NewPipelineWithDeps creates a Pipeline with custom dependencies for testing
func NewPipelineWithDeps(store DocumentStore, storage Storage, ocr providers.OCR, translator providers.Translator, embedder providers.Embedder, idx index.Index, issuer wallet.Issuer, idGen IDGenerator, timeSource TimeSource) *Pipeline {
	p := NewPipeline(store, storage, ocr, translator, embedder, idx, issuer)
	p.idGen = idGen
	p.timeSource = timeSource
	return p
}

// Run processes a newly ingested source for an owner, generating a fresh
// receipt id. It returns the final record on success or a *StageError
// identifying the failed stage.
func (p *Pipeline) Run(ctx context.Context, ownerID, sourceURI, contentType string) (*Record, error) {
	return p.run(ctx, &PipelineContext{
		OwnerID:     ownerID,
		ReceiptID:   p.idGen.Generate(),
		SourceURI:   sourceURI,
		ContentType: contentType,
	})
}

// Retry re-runs the pipeline for an existing receipt id. Safe to call for a
// failed or duplicate-triggered run; stages overwrite rather than duplicate
// their earlier side effects.
func (p *Pipeline) Retry(ctx context.Context, ownerID, receiptID, sourceURI, contentType string) (*Record, error) {
	return p.run(ctx, &PipelineContext{
		OwnerID:     ownerID,
		ReceiptID:   receiptID,
		SourceURI:   sourceURI,
		ContentType: contentType,
	})
}

// Delete removes a receipt: its record, its stored image and its index
// vector. File and index removal are best-effort; retrieval already drops
// index entries without a record.
func (p *Pipeline) Delete(ctx context.Context, ownerID, receiptID string) error {
	record, err := p.store.Get(ownerID, receiptID)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := p.storage.Delete(record.SourceURI); err != nil {
		slog.Warn("Failed to delete receipt file", "source_uri", record.SourceURI, "error", err)
	}
	if err := p.index.Delete(ctx, receiptID); err != nil {
		slog.Warn("Failed to delete receipt vector", "receipt_id", receiptID, "error", err)
	}

	if err := p.store.Delete(ownerID, receiptID); err != nil {
		return fmt.Errorf("deleting receipt record: %w", err)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, pc *PipelineContext) (*Record, error) {
	stages := []struct {
		name string
		fn   func(context.Context, *PipelineContext) *StageError
	}{
		{StageIngest, p.ingest},
		{StageExtract, p.extract},
		{StageTranslate, p.translate},
		{StageEmbed, p.embed},
		{StagePersist, p.persist},
		{StageWallet, p.issuePass},
	}

	for _, st := range stages {
		if serr := st.fn(ctx, pc); serr != nil {
			p.markFailed(pc, serr)
			return nil, serr
		}
	}

	record, err := p.store.Get(pc.OwnerID, pc.ReceiptID)
	if err != nil {
		return nil, &StageError{Stage: StageWallet, Kind: KindPersistFailed, Err: err}
	}

	slog.Info("Receipt processed",
		"owner_id", pc.OwnerID,
		"receipt_id", pc.ReceiptID,
		"embedded", pc.Embedded,
	)
	return record, nil
}

// ingest durably creates the record in processing state before any adapter
// is called
func (p *Pipeline) ingest(_ context.Context, pc *PipelineContext) *StageError {
	now := p.timeSource.Now()
	err := p.store.Put(pc.OwnerID, pc.ReceiptID, Fields{
		"id":           pc.ReceiptID,
		"owner_id":     pc.OwnerID,
		"source_uri":   pc.SourceURI,
		"content_type": pc.ContentType,
		"status":       string(StatusProcessing),
		"created_at":   now,
		"updated_at":   now,
	})
	if err != nil {
		return &StageError{Stage: StageIngest, Kind: KindPersistFailed, Err: err}
	}
	return nil
}

// extract reads the stored image and runs OCR on it
func (p *Pipeline) extract(ctx context.Context, pc *PipelineContext) *StageError {
	img, err := p.storage.Get(pc.SourceURI)
	if err != nil {
		return &StageError{Stage: StageExtract, Kind: KindExtractionFailed, Err: err}
	}
	pc.Image = img

	text, err := p.ocr.ExtractText(ctx, img, pc.ContentType)
	if err != nil {
		return &StageError{Stage: StageExtract, Kind: KindExtractionFailed, Err: err}
	}
	pc.RawText = text

	if err := p.merge(pc, Fields{"raw_text": text}); err != nil {
		return &StageError{Stage: StageExtract, Kind: KindPersistFailed, Err: err}
	}
	return nil
}

// translate detects the source language and translates the extracted text.
// The adapter handles the identity case: text already in the target language
// passes through unchanged.
func (p *Pipeline) translate(ctx context.Context, pc *PipelineContext) *StageError {
	translated, lang, err := p.translator.Translate(ctx, pc.RawText)
	if err != nil {
		return &StageError{Stage: StageTranslate, Kind: KindTranslationFailed, Err: err}
	}
	pc.TranslatedText = translated
	pc.SourceLanguage = lang

	err = p.merge(pc, Fields{
		"translated_text": translated,
		"source_language": lang,
	})
	if err != nil {
		return &StageError{Stage: StageTranslate, Kind: KindPersistFailed, Err: err}
	}
	return nil
}

// embed computes the vector and upserts it into the index. An unavailable
// embedding provider or index does not fail the run: a wallet pass has value
// even without retrieval support, so the receipt degrades to a record with
// no vector instead of a failed record.
func (p *Pipeline) embed(ctx context.Context, pc *PipelineContext) *StageError {
	vec, err := p.embedder.Embed(ctx, pc.TranslatedText, providers.ModeDocument)
	if err != nil {
		slog.Warn("Embedding unavailable, continuing without vector",
			"receipt_id", pc.ReceiptID,
			"error", err,
		)
	} else if err := p.index.Upsert(ctx, pc.ReceiptID, vec, receiptTags); err != nil {
		slog.Warn("Index unavailable, continuing without vector",
			"receipt_id", pc.ReceiptID,
			"error", err,
		)
	} else {
		pc.Embedded = true
	}

	if err := p.merge(pc, Fields{"embedded": pc.Embedded}); err != nil {
		return &StageError{Stage: StageEmbed, Kind: KindPersistFailed, Err: err}
	}
	return nil
}

// persist derives the structured fields from the translated text and merges
// them into the record. Field extraction is best-effort: anything that
// cannot be parsed becomes a placeholder, never a stage failure.
func (p *Pipeline) persist(_ context.Context, pc *PipelineContext) *StageError {
	fields := ExtractFields(pc.TranslatedText)
	pc.Vendor = fields.Vendor
	pc.PurchaseDate = fields.PurchaseDate
	pc.TotalPrice = fields.TotalPrice
	pc.Category = fields.Category
	pc.LineItems = fields.LineItems

	err := p.merge(pc, Fields{
		"vendor":        fields.Vendor,
		"purchase_date": fields.PurchaseDate,
		"total_price":   fields.TotalPrice,
		"category":      fields.Category,
		"line_items":    fields.LineItems,
	})
	if err != nil {
		return &StageError{Stage: StagePersist, Kind: KindPersistFailed, Err: err}
	}
	return nil
}

// issuePass issues the wallet pass and completes the record
func (p *Pipeline) issuePass(_ context.Context, pc *PipelineContext) *StageError {
	token, err := p.issuer.Issue(wallet.Pass{
		ReceiptID:    pc.ReceiptID,
		Vendor:       pc.Vendor,
		PurchaseDate: pc.PurchaseDate,
		TotalPrice:   pc.TotalPrice,
		Category:     pc.Category,
		LineItems:    pc.LineItems,
	})
	if err != nil {
		return &StageError{Stage: StageWallet, Kind: KindIssuanceFailed, Err: err}
	}
	pc.WalletToken = token

	err = p.merge(pc, Fields{
		"wallet_token":   token,
		"status":         string(StatusCompleted),
		"failed_stage":   "",
		"failure_reason": "",
	})
	if err != nil {
		return &StageError{Stage: StageWallet, Kind: KindPersistFailed, Err: err}
	}
	return nil
}

// merge writes fields plus a fresh updated_at into the store
func (p *Pipeline) merge(pc *PipelineContext, fields Fields) error {
	fields["updated_at"] = p.timeSource.Now()
	return p.store.Put(pc.OwnerID, pc.ReceiptID, fields)
}

// markFailed best-effort records the failure. Earlier fields stay intact; a
// failure to write the failure record is logged but raises nothing further.
func (p *Pipeline) markFailed(pc *PipelineContext, serr *StageError) {
	err := p.merge(pc, Fields{
		"status":         string(StatusFailed),
		"failed_stage":   serr.Stage,
		"failure_reason": string(serr.Kind),
	})
	if err != nil {
		slog.Error("Failed to record pipeline failure",
			"owner_id", pc.OwnerID,
			"receipt_id", pc.ReceiptID,
			"stage", serr.Stage,
			"error", err,
		)
	}
	slog.Error("Pipeline run failed",
		"owner_id", pc.OwnerID,
		"receipt_id", pc.ReceiptID,
		"stage", serr.Stage,
		"kind", serr.Kind,
		"error", serr.Err,
	)
}
