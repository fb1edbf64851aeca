package merkle_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/staffdesk/pkg/llm"
	"github.com/papercomputeco/staffdesk/pkg/merkle"
)

func bucket(role llm.Role, content string) merkle.Bucket {
	return merkle.MessageBucket(llm.Message{Role: role, Content: content}, "test-model", "test")
}

var _ = Describe("Node", func() {
	Describe("NewNode", func() {
		Context("when creating a root node (no parent)", func() {
			It("keeps the given bucket", func() {
				b := bucket(llm.RoleUser, "hello world")
				node := merkle.NewNode(b, nil)

				Expect(node.Bucket).To(Equal(b))
				Expect(node.Message()).To(Equal(llm.Message{Role: llm.RoleUser, Content: "hello world"}))
			})

			It("sets ParentHash to nil for root nodes", func() {
				node := merkle.NewNode(bucket(llm.RoleUser, "test"), nil)

				Expect(node.ParentHash).To(BeNil())
			})

			It("produces consistent hashes for the same content", func() {
				node1 := merkle.NewNode(bucket(llm.RoleUser, "same content"), nil)
				node2 := merkle.NewNode(bucket(llm.RoleUser, "same content"), nil)

				Expect(node1.Hash).To(Equal(node2.Hash))
			})

			It("produces different hashes for different content or role", func() {
				node1 := merkle.NewNode(bucket(llm.RoleUser, "content A"), nil)
				node2 := merkle.NewNode(bucket(llm.RoleUser, "content B"), nil)
				node3 := merkle.NewNode(bucket(llm.RoleAssistant, "content A"), nil)

				Expect(node1.Hash).NotTo(Equal(node2.Hash))
				Expect(node1.Hash).NotTo(Equal(node3.Hash))
			})

			It("ignores usage and backend when hashing", func() {
				plain := bucket(llm.RoleAssistant, "reply")
				rich := plain
				rich.Backend = "openai"
				rich.Usage = &llm.Usage{PromptTokens: 3, CompletionTokens: 7}

				Expect(merkle.NewNode(rich, nil).Hash).To(Equal(merkle.NewNode(plain, nil).Hash))
			})
		})

		Context("when creating a child node (with parent)", func() {
			var parent *merkle.Node

			BeforeEach(func() {
				parent = merkle.NewNode(bucket(llm.RoleUser, "parent content"), nil)
			})

			It("links the child to the parent via ParentHash", func() {
				child := merkle.NewNode(bucket(llm.RoleAssistant, "child content"), parent)

				Expect(child.ParentHash).NotTo(BeNil())
				Expect(*child.ParentHash).To(Equal(parent.Hash))
			})

			It("creates a chain of nodes", func() {
				child1 := merkle.NewNode(bucket(llm.RoleAssistant, "child 1"), parent)
				child2 := merkle.NewNode(bucket(llm.RoleUser, "child 2"), child1)

				Expect(*child1.ParentHash).To(Equal(parent.Hash))
				Expect(*child2.ParentHash).To(Equal(child1.Hash))
			})

			It("produces different hashes for same content with different parents", func() {
				parent2 := merkle.NewNode(bucket(llm.RoleUser, "different parent"), nil)
				child1 := merkle.NewNode(bucket(llm.RoleAssistant, "same content"), parent)
				child2 := merkle.NewNode(bucket(llm.RoleAssistant, "same content"), parent2)

				Expect(child1.Hash).NotTo(Equal(child2.Hash))
			})
		})
	})

	Describe("Hash computation", func() {
		It("produces a valid SHA-256 hex string (64 characters)", func() {
			node := merkle.NewNode(bucket(llm.RoleUser, "test"), nil)

			Expect(node.Hash).To(MatchRegexp("^[a-f0-9]{64}$"))
		})
	})
})
