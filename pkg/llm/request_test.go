package llm_test

import (
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/staffdesk/pkg/llm"
)

var _ = Describe("DecodeChatRequest", func() {
	It("decodes a valid conversation", func() {
		req, err := llm.DecodeChatRequest([]byte(`{
			"model": "gpt-4o",
			"messages": [
				{"role": "system", "content": "Be brief."},
				{"role": "user", "content": "Hi"}
			],
			"options": {"temperature": 0.2}
		}`))

		Expect(err).NotTo(HaveOccurred())
		Expect(req.Model).To(Equal("gpt-4o"))
		Expect(req.Messages).To(HaveLen(2))
		Expect(req.Messages[1]).To(Equal(llm.Message{Role: llm.RoleUser, Content: "Hi"}))
		Expect(*req.Options.Temperature).To(BeNumerically("==", 0.2))
	})

	It("accepts an empty content string", func() {
		_, err := llm.DecodeChatRequest([]byte(`{"messages":[{"role":"user","content":""}]}`))
		Expect(err).NotTo(HaveOccurred())
	})

	DescribeTable("rejects malformed bodies as validation errors",
		func(body string) {
			_, err := llm.DecodeChatRequest([]byte(body))
			Expect(err).To(HaveOccurred())
			Expect(llm.CodeOf(err)).To(Equal(llm.CodeValidation))
		},
		Entry("empty body", ""),
		Entry("whitespace", "  \n"),
		Entry("not json", "hello"),
		Entry("missing messages", `{"model":"x"}`),
		Entry("null messages", `{"messages":null}`),
		Entry("empty messages", `{"messages":[]}`),
		Entry("messages not an array", `{"messages":{"role":"user"}}`),
		Entry("missing role", `{"messages":[{"content":"hi"}]}`),
		Entry("unrecognized role", `{"messages":[{"role":"tool","content":"hi"}]}`),
	)
})

var _ = Describe("Conversation", func() {
	It("titles a conversation after its first user message", func() {
		conv := llm.Conversation{
			{Role: llm.RoleSystem, Content: "You are helpful."},
			{Role: llm.RoleUser, Content: "Employee onboarding\nprocess"},
		}
		Expect(conv.Title(60)).To(Equal("Employee onboarding process"))
		Expect(conv.Title(8)).To(Equal("Employee..."))
	})

	It("never cuts a title inside a multi-byte character", func() {
		conv := llm.Conversation{{Role: llm.RoleUser, Content: "Café crème, 日本語"}}
		Expect(conv.Title(4)).To(Equal("Caf..."))
		Expect(conv.Title(5)).To(Equal("Café..."))
		for n := 0; n < len("Café crème, 日本語"); n++ {
			Expect(utf8.ValidString(conv.Title(n))).To(BeTrue())
		}
		Expect(llm.Truncate("日本語", 4)).To(Equal("日..."))
	})

	It("falls back to a generic title", func() {
		Expect(llm.Conversation{{Role: llm.RoleSystem, Content: "x"}}.Title(10)).To(Equal("Untitled conversation"))
	})

	It("returns the last message", func() {
		_, ok := llm.Conversation{}.Last()
		Expect(ok).To(BeFalse())

		last, ok := llm.Conversation{{Role: llm.RoleUser, Content: "a"}, {Role: llm.RoleAssistant, Content: "b"}}.Last()
		Expect(ok).To(BeTrue())
		Expect(last.Content).To(Equal("b"))
	})
})
