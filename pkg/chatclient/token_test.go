package chatclient_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/staffdesk/pkg/chatclient"
)

var _ = Describe("TokenStore", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "nested", "token")
	})

	It("starts empty when nothing is stored", func() {
		store, err := chatclient.NewTokenStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Init()).To(Succeed())
		Expect(store.Token()).To(BeEmpty())
	})

	It("persists a token readable only by the owner", func() {
		store, err := chatclient.NewTokenStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Save("  abc.def.ghi \n")).To(Succeed())
		Expect(store.Token()).To(Equal("abc.def.ghi"))

		info, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

		reloaded, err := chatclient.NewTokenStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Init()).To(Succeed())
		Expect(reloaded.Token()).To(Equal("abc.def.ghi"))
	})

	It("clears the token and its file", func() {
		store, err := chatclient.NewTokenStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Save("abc")).To(Succeed())

		Expect(store.Clear()).To(Succeed())
		Expect(store.Token()).To(BeEmpty())
		_, err = os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())

		Expect(store.Clear()).To(Succeed())
	})

	It("rejects an empty token", func() {
		store, err := chatclient.NewTokenStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Save(" ")).To(HaveOccurred())
	})
})
