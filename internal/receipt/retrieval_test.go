package receipt

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/raseedapp/raseed/internal/index"
	"github.com/raseedapp/raseed/internal/providers"
)

var _ = Describe("Retrieval", func() {
	var (
		store     *BoltStore
		idx       *index.Memory
		embedder  *mockEmbedder
		retrieval *Retrieval
		ctx       context.Context

		matches   []Match
		searchErr error
	)

	BeforeEach(func() {
		var err error
		store, err = NewBoltStore(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())

		idx = index.NewMemory()
		embedder = &mockEmbedder{vec: []float32{1, 0, 0}}
		retrieval = NewRetrieval(embedder, idx, store)
		ctx = context.Background()
	})

	AfterEach(func() {
		store.Close()
	})

	JustBeforeEach(func() {
		matches, searchErr = retrieval.Search(ctx, "ownerA", "coffee")
	})

	When("the index and store hold matching receipts", func() {
		BeforeEach(func() {
			Expect(store.Put("ownerA", "r1", Fields{"id": "r1", "owner_id": "ownerA", "vendor": "Cafe Mocha", "total_price": "4.50", "status": "completed"})).To(Succeed())
			Expect(store.Put("ownerA", "r2", Fields{"id": "r2", "owner_id": "ownerA", "vendor": "Corner Store", "total_price": "12.00", "status": "completed"})).To(Succeed())
			Expect(idx.Upsert(ctx, "r2", []float32{0, 1, 0}, map[string]string{"category": "receipt"})).To(Succeed())
			Expect(idx.Upsert(ctx, "r1", []float32{1, 0, 0}, map[string]string{"category": "receipt"})).To(Succeed())
		})

		It("should not return an error", func() {
			Expect(searchErr).NotTo(HaveOccurred())
		})

		It("returns matches nearest first with summary fields", func() {
			Expect(matches).To(HaveLen(2))
			Expect(matches[0].ID).To(Equal("r1"))
			Expect(matches[0].Vendor).To(Equal("Cafe Mocha"))
			Expect(matches[0].TotalPrice).To(Equal("4.50"))
			Expect(matches[1].ID).To(Equal("r2"))
		})

		It("embeds the query in query mode", func() {
			Expect(embedder.modes).To(ConsistOf(providers.ModeQuery))
		})
	})

	When("the index holds another owner's receipt", func() {
		BeforeEach(func() {
			Expect(store.Put("ownerA", "r1", Fields{"id": "r1", "owner_id": "ownerA", "vendor": "Cafe Mocha", "total_price": "4.50", "status": "completed"})).To(Succeed())
			Expect(store.Put("ownerB", "r9", Fields{"id": "r9", "owner_id": "ownerB", "vendor": "Secret Shop", "total_price": "99.00", "status": "completed"})).To(Succeed())
			Expect(idx.Upsert(ctx, "r1", []float32{1, 0, 0}, map[string]string{"category": "receipt"})).To(Succeed())
			Expect(idx.Upsert(ctx, "r9", []float32{1, 0, 0}, map[string]string{"category": "receipt"})).To(Succeed())
		})

		It("silently drops the foreign record", func() {
			Expect(searchErr).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].ID).To(Equal("r1"))
		})
	})

	When("the index returns an id with no stored record", func() {
		BeforeEach(func() {
			Expect(idx.Upsert(ctx, "ghost", []float32{1, 0, 0}, map[string]string{"category": "receipt"})).To(Succeed())
		})

		It("silently drops the entry", func() {
			Expect(searchErr).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})
	})

	When("nothing matches", func() {
		It("returns an empty result, not an error", func() {
			Expect(searchErr).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})
	})

	When("the embedding provider is unavailable", func() {
		BeforeEach(func() {
			embedder.err = errors.New("quota exceeded")
		})

		It("returns an embedding_unavailable stage error", func() {
			var serr *StageError
			Expect(errors.As(searchErr, &serr)).To(BeTrue())
			Expect(serr.Kind).To(Equal(KindEmbeddingUnavailable))
		})
	})
})
