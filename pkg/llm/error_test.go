package llm_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

var _ = Describe("Error", func() {
	It("finds the code through wrapping", func() {
		err := fmt.Errorf("relaying: %w", llm.BackendInterruptedError("connection reset", errors.New("EOF")))

		Expect(llm.CodeOf(err)).To(Equal(llm.CodeBackendInterrupted))
		Expect(llm.IsCode(err, llm.CodeBackendInterrupted)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("connection reset"))
	})

	It("maps bare deadline errors to timeout", func() {
		Expect(llm.CodeOf(context.DeadlineExceeded)).To(Equal(llm.CodeTimeout))
		Expect(llm.CodeOf(errors.New("boom"))).To(Equal(llm.CodeInternal))
		Expect(llm.CodeOf(nil)).To(BeEmpty())
		Expect(llm.IsCode(nil, llm.CodeInternal)).To(BeFalse())
	})

	It("unwraps to the cause", func() {
		err := llm.TimeoutError(context.DeadlineExceeded)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})
})

var _ = Describe("DoneReasonFor", func() {
	DescribeTable("maps stream errors",
		func(err error, want llm.DoneReason) {
			Expect(llm.DoneReasonFor(err)).To(Equal(want))
		},
		Entry("clean end", nil, llm.DoneStop),
		Entry("timeout", llm.TimeoutError(nil), llm.DoneTimeout),
		Entry("deadline", context.DeadlineExceeded, llm.DoneTimeout),
		Entry("interrupted", llm.BackendInterruptedError("reset", nil), llm.DoneInterrupted),
		Entry("anything else", errors.New("boom"), llm.DoneInterrupted),
	)

	It("only treats stop as complete", func() {
		Expect(llm.DoneStop.Complete()).To(BeTrue())
		Expect(llm.DoneTimeout.Complete()).To(BeFalse())
		Expect(llm.DoneInterrupted.Complete()).To(BeFalse())
		Expect(llm.DoneCanceled.Complete()).To(BeFalse())
	})
})
