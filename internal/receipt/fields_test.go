package receipt

import (
	"strings"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ExtractFields", func() {
	var (
		text   string
		fields StructuredFields
	)

	JustBeforeEach(func() {
		fields = ExtractFields(text)
	})

	When("parsing a simple receipt", func() {
		BeforeEach(func() {
			text = "Cafe Mocha\n$4.50\n2024-01-01"
		})

		It("takes the vendor from the first line", func() {
			Expect(fields.Vendor).To(Equal("Cafe Mocha"))
		})

		It("finds the ISO date", func() {
			Expect(fields.PurchaseDate).To(Equal("2024-01-01"))
		})

		It("finds the amount", func() {
			Expect(fields.TotalPrice).To(Equal("4.50"))
		})

		It("keeps every non-empty line as a line item", func() {
			Expect(fields.LineItems).To(Equal([]string{"Cafe Mocha", "$4.50", "2024-01-01"}))
		})

		It("uses the category placeholder", func() {
			Expect(fields.Category).To(Equal(PlaceholderCategory))
		})
	})

	When("a line mentions the total", func() {
		BeforeEach(func() {
			text = "Corner Store\nCoffee $3.00\nBagel $2.50\nTOTAL $5.50\nCash $10.00"
		})

		It("prefers the amount on the total line", func() {
			Expect(fields.TotalPrice).To(Equal("5.50"))
		})
	})

	When("no line mentions the total", func() {
		BeforeEach(func() {
			text = "Corner Store\nCoffee $3.00\nBagel $2.50"
		})

		It("falls back to the last amount", func() {
			Expect(fields.TotalPrice).To(Equal("2.50"))
		})
	})

	When("amounts use thousands separators", func() {
		BeforeEach(func() {
			text = "Electronics Hub\nTotal $1,204.99"
		})

		It("normalizes the amount", func() {
			Expect(fields.TotalPrice).To(Equal("1204.99"))
		})
	})

	When("the date uses slashes", func() {
		BeforeEach(func() {
			text = "Shop\nDate: 01/15/2024\nTotal $9.99"
		})

		It("normalizes it to ISO format", func() {
			Expect(fields.PurchaseDate).To(Equal("2024-01-15"))
		})
	})

	When("the first line is very long", func() {
		BeforeEach(func() {
			text = "This Vendor Name Is Far Too Long To Fit On A Wallet Pass Header Somehow\n$1.00"
		})

		It("truncates the vendor", func() {
			Expect(len(fields.Vendor)).To(Equal(50))
		})
	})

	When("a long vendor name uses multi-byte characters", func() {
		BeforeEach(func() {
			text = strings.Repeat("ö", 60) + "\n$1.00"
		})

		It("truncates by runes, keeping valid UTF-8", func() {
			Expect(utf8.ValidString(fields.Vendor)).To(BeTrue())
			Expect([]rune(fields.Vendor)).To(HaveLen(50))
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns placeholders for every field", func() {
			Expect(fields.Vendor).To(Equal(PlaceholderVendor))
			Expect(fields.PurchaseDate).To(Equal(PlaceholderValue))
			Expect(fields.TotalPrice).To(Equal(PlaceholderValue))
			Expect(fields.Category).To(Equal(PlaceholderCategory))
			Expect(fields.LineItems).To(BeEmpty())
		})
	})

	When("nothing is parseable", func() {
		BeforeEach(func() {
			text = "thanks for shopping\ncome again"
		})

		It("keeps placeholders instead of guessing", func() {
			Expect(fields.Vendor).To(Equal("thanks for shopping"))
			Expect(fields.PurchaseDate).To(Equal(PlaceholderValue))
			Expect(fields.TotalPrice).To(Equal(PlaceholderValue))
		})
	})
})
