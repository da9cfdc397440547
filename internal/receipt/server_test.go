package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/raseedapp/raseed/internal/auth"
	"github.com/raseedapp/raseed/internal/index"
)

// mockChatbot is a mock implementation of Chatbot
type mockChatbot struct {
	answer  string
	matches []Match
	err     error

	lastOwner   string
	lastMessage string
}

func (m *mockChatbot) Chat(_ context.Context, ownerID, message string) (string, []Match, error) {
	m.lastOwner = ownerID
	m.lastMessage = message
	if m.err != nil {
		return "", nil, m.err
	}
	return m.answer, m.matches, nil
}

// seqIDGen generates r1, r2, ... so specs with several uploads get
// predictable distinct ids
type seqIDGen struct {
	n int
}

func (g *seqIDGen) Generate() string {
	g.n++
	return fmt.Sprintf("r%d", g.n)
}

func multipartBody(filename string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		store    *BoltStore
		storage  *mockStorage
		ocr      *mockOCR
		embedder *mockEmbedder
		idx      *index.Memory
		chatbot  *mockChatbot
		server   *Server
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		var err error
		store, err = NewBoltStore(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())

		storage = newMockStorage()
		ocr = &mockOCR{text: "Cafe Mocha\n$4.50\n2024-01-01"}
		embedder = &mockEmbedder{vec: []float32{1, 0, 0}}

		idx = index.NewMemory()
		pipeline := NewPipelineWithDeps(store, storage, ocr, &mockTranslator{}, embedder,
			idx, &mockIssuer{token: "signed-pass"},
			&seqIDGen{}, defaultTimeSource{},
		)

		chatbot = &mockChatbot{
			answer:  "You spent $4.50 at Cafe Mocha.",
			matches: []Match{{ID: "r1", Distance: 0.1, Vendor: "Cafe Mocha", TotalPrice: "4.50"}},
		}
		server = NewServer(pipeline, store, storage, chatbot, auth.Static{})
		recorder = httptest.NewRecorder()
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("authentication", func() {
		It("rejects requests without a credential", func() {
			req := httptest.NewRequest("GET", "/api/receipts", nil)
			server.ServeHTTP(recorder, req)
			Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
		})

		It("leaves the health endpoint open", func() {
			req := httptest.NewRequest("GET", "/healthz", nil)
			server.ServeHTTP(recorder, req)
			Expect(recorder.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /api/receipts", func() {
		It("processes the upload and returns the completed record", func() {
			body, contentType := multipartBody("receipt.jpg", []byte("image-bytes"))
			req := httptest.NewRequest("POST", "/api/receipts", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer u1")

			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusCreated))
			var record Record
			Expect(json.Unmarshal(recorder.Body.Bytes(), &record)).To(Succeed())
			Expect(record.ID).To(Equal("r1"))
			Expect(record.Status).To(Equal(StatusCompleted))
			Expect(record.WalletToken).To(Equal("signed-pass"))
		})

		It("rejects requests without a file", func() {
			body, contentType := multipartBody("receipt.jpg", []byte("image-bytes"))
			req := httptest.NewRequest("POST", "/api/receipts", body)
			req.Header.Set("Content-Type", strings.Replace(contentType, "multipart/form-data", "text/plain", 1))
			req.Header.Set("Authorization", "Bearer u1")

			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})

		It("stores repeat uploads of the same filename separately", func() {
			body, contentType := multipartBody("receipt.jpg", []byte("first-image"))
			req := httptest.NewRequest("POST", "/api/receipts", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer u1")
			server.ServeHTTP(recorder, req)
			Expect(recorder.Code).To(Equal(http.StatusCreated))
			var first Record
			Expect(json.Unmarshal(recorder.Body.Bytes(), &first)).To(Succeed())

			body, contentType = multipartBody("receipt.jpg", []byte("second-image"))
			req = httptest.NewRequest("POST", "/api/receipts", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer u1")
			second := httptest.NewRecorder()
			server.ServeHTTP(second, req)
			Expect(second.Code).To(Equal(http.StatusCreated))
			var secondRecord Record
			Expect(json.Unmarshal(second.Body.Bytes(), &secondRecord)).To(Succeed())

			Expect(secondRecord.SourceURI).NotTo(Equal(first.SourceURI))

			req = httptest.NewRequest("GET", "/api/receipts/"+first.ID+"/file", nil)
			req.Header.Set("Authorization", "Bearer u1")
			fileRecorder := httptest.NewRecorder()
			server.ServeHTTP(fileRecorder, req)
			Expect(fileRecorder.Code).To(Equal(http.StatusOK))
			Expect(fileRecorder.Body.String()).To(Equal("first-image"))
		})

		When("a pipeline stage fails", func() {
			BeforeEach(func() {
				ocr.err = context.DeadlineExceeded
			})

			It("reports the failed stage and kind", func() {
				body, contentType := multipartBody("receipt.jpg", []byte("image-bytes"))
				req := httptest.NewRequest("POST", "/api/receipts", body)
				req.Header.Set("Content-Type", contentType)
				req.Header.Set("Authorization", "Bearer u1")

				server.ServeHTTP(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusUnprocessableEntity))
				var resp map[string]string
				Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp["stage"]).To(Equal(StageExtract))
				Expect(resp["kind"]).To(Equal(string(KindExtractionFailed)))
			})
		})
	})

	Describe("GET /api/receipts/{id}", func() {
		BeforeEach(func() {
			Expect(store.Put("u1", "r1", Fields{"id": "r1", "owner_id": "u1", "vendor": "Cafe Mocha", "status": "completed"})).To(Succeed())
		})

		It("returns the owner's record", func() {
			req := httptest.NewRequest("GET", "/api/receipts/r1", nil)
			req.Header.Set("Authorization", "Bearer u1")

			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var record Record
			Expect(json.Unmarshal(recorder.Body.Bytes(), &record)).To(Succeed())
			Expect(record.Vendor).To(Equal("Cafe Mocha"))
		})

		It("hides other owners' records", func() {
			req := httptest.NewRequest("GET", "/api/receipts/r1", nil)
			req.Header.Set("Authorization", "Bearer u2")

			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /api/receipts/{id}", func() {
		var record Record

		BeforeEach(func() {
			body, contentType := multipartBody("receipt.jpg", []byte("image-bytes"))
			req := httptest.NewRequest("POST", "/api/receipts", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer u1")
			uploadRecorder := httptest.NewRecorder()
			server.ServeHTTP(uploadRecorder, req)
			Expect(uploadRecorder.Code).To(Equal(http.StatusCreated))
			Expect(json.Unmarshal(uploadRecorder.Body.Bytes(), &record)).To(Succeed())
			Expect(idx.Len()).To(Equal(1))
		})

		It("removes the record, the stored file and the vector", func() {
			req := httptest.NewRequest("DELETE", "/api/receipts/"+record.ID, nil)
			req.Header.Set("Authorization", "Bearer u1")
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusNoContent))

			_, err := store.Get("u1", record.ID)
			Expect(err).To(HaveOccurred())
			Expect(storage.files).NotTo(HaveKey(record.SourceURI))
			Expect(idx.Len()).To(Equal(0))
		})

		It("hides other owners' receipts", func() {
			req := httptest.NewRequest("DELETE", "/api/receipts/"+record.ID, nil)
			req.Header.Set("Authorization", "Bearer u2")
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
			_, err := store.Get("u1", record.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("404s for an unknown receipt", func() {
			req := httptest.NewRequest("DELETE", "/api/receipts/missing", nil)
			req.Header.Set("Authorization", "Bearer u1")
			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/receipts/{id}/retry", func() {
		BeforeEach(func() {
			storage.files["u1_receipt.jpg"] = []byte("image-bytes")
			Expect(store.Put("u1", "r1", Fields{
				"id": "r1", "owner_id": "u1", "source_uri": "u1_receipt.jpg",
				"content_type": "image/jpeg", "status": "failed", "failed_stage": "translate",
			})).To(Succeed())
		})

		It("re-runs the pipeline for the same receipt id", func() {
			req := httptest.NewRequest("POST", "/api/receipts/r1/retry", nil)
			req.Header.Set("Authorization", "Bearer u1")

			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var record Record
			Expect(json.Unmarshal(recorder.Body.Bytes(), &record)).To(Succeed())
			Expect(record.ID).To(Equal("r1"))
			Expect(record.Status).To(Equal(StatusCompleted))
		})

		It("404s for an unknown receipt", func() {
			req := httptest.NewRequest("POST", "/api/receipts/missing/retry", nil)
			req.Header.Set("Authorization", "Bearer u1")

			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/chat", func() {
		It("answers with the chatbot's response", func() {
			req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"message": "how much for coffee?"}`))
			req.Header.Set("Authorization", "Bearer u1")

			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var resp chatResponse
			Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Answer).To(Equal("You spent $4.50 at Cafe Mocha."))
			Expect(resp.Results).To(HaveLen(1))
			Expect(resp.Results[0].Vendor).To(Equal("Cafe Mocha"))
			Expect(chatbot.lastOwner).To(Equal("u1"))
			Expect(chatbot.lastMessage).To(Equal("how much for coffee?"))
		})

		It("rejects an empty message", func() {
			req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"message": ""}`))
			req.Header.Set("Authorization", "Bearer u1")

			server.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
