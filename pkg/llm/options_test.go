package llm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("Options.Merge", func() {
	It("returns nil when neither side is set", func() {
		var o *llm.Options
		Expect(o.Merge(nil)).To(BeNil())
	})

	It("fills unset fields from the defaults", func() {
		defaults := &llm.Options{Temperature: ptr(0.7), MaxTokens: ptr(256)}
		o := &llm.Options{Temperature: ptr(0.1), Stop: []string{"END"}}

		merged := o.Merge(defaults)
		Expect(*merged.Temperature).To(Equal(0.1))
		Expect(*merged.MaxTokens).To(Equal(256))
		Expect(merged.Stop).To(Equal([]string{"END"}))
		Expect(*defaults.Temperature).To(Equal(0.7), "defaults must not be modified")
	})

	It("copies the defaults for a request without options", func() {
		var o *llm.Options
		defaults := &llm.Options{TopP: ptr(0.9)}

		merged := o.Merge(defaults)
		Expect(merged).NotTo(BeIdenticalTo(defaults))
		Expect(*merged.TopP).To(Equal(0.9))
	})
})
