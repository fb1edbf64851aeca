package archivecmder

import (
	"bytes"
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/staffdesk/pkg/llm"
	"github.com/papercomputeco/staffdesk/pkg/merkle"
)

var _ = Describe("Merge Command", func() {
	var (
		ctx     context.Context
		tmpDir  string
		srcPath string
		dstPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		srcPath = filepath.Join(tmpDir, "source.sqlite")
		dstPath = filepath.Join(tmpDir, "target.sqlite")
	})

	makeNode := func(role llm.Role, text string, parent *merkle.Node) *merkle.Node {
		return merkle.NewNode(merkle.MessageBucket(llm.Message{Role: role, Content: text}, "test-model", "test"), parent)
	}

	seed := func(path string, nodes ...*merkle.Node) {
		s, err := merkle.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		for _, n := range nodes {
			_, err := s.Put(ctx, n)
			Expect(err).NotTo(HaveOccurred())
		}
	}

	count := func(path string) int {
		s, err := merkle.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		nodes, err := s.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		return len(nodes)
	}

	merge := func(args ...string) string {
		var out bytes.Buffer
		cmd := NewMergeCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--sqlite", dstPath}, args...))
		Expect(cmd.ExecuteContext(ctx)).To(Succeed())
		return out.String()
	}

	It("merges nodes from source into target", func() {
		nodeA := makeNode(llm.RoleUser, "hello from source", nil)
		nodeB := makeNode(llm.RoleAssistant, "hi back", nodeA)
		seed(srcPath, nodeA, nodeB)
		seed(dstPath, makeNode(llm.RoleUser, "hello from target", nil))

		out := merge(srcPath)

		Expect(count(dstPath)).To(Equal(3))
		Expect(out).To(ContainSubstring("2 new, 0 already existed"))
	})

	It("deduplicates when merging the same source twice", func() {
		seed(srcPath, makeNode(llm.RoleUser, "dedup test", nil))

		merge(srcPath)
		out := merge(srcPath)

		Expect(count(dstPath)).To(Equal(1))
		Expect(out).To(ContainSubstring("0 new, 1 already existed"))
	})

	It("merges multiple sources", func() {
		src2Path := filepath.Join(tmpDir, "source2.sqlite")
		seed(srcPath, makeNode(llm.RoleUser, "from source 1", nil))
		seed(src2Path, makeNode(llm.RoleUser, "from source 2", nil))

		merge(srcPath, src2Path)

		Expect(count(dstPath)).To(Equal(2))
	})

	It("keeps conversations walkable after merging", func() {
		root := makeNode(llm.RoleUser, "question", nil)
		reply := makeNode(llm.RoleAssistant, "answer", root)
		seed(srcPath, reply)
		src2Path := filepath.Join(tmpDir, "source2.sqlite")
		seed(src2Path, root)

		merge(srcPath, src2Path)

		s, err := merkle.NewSQLiteStorer(dstPath)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		path, err := s.Ancestry(ctx, reply.Hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(HaveLen(2))
		Expect(path[1].Hash).To(Equal(root.Hash))
	})
})
