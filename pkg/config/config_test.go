package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/config"
)

func writeFile(path, body string) {
	Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
}

var _ = Describe("Load", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		for _, key := range []string{
			"STAFFDESK_MODEL", "STAFFDESK_MAX_DURATION", "STAFFDESK_PROVIDER",
			"STAFFDESK_API_KEY", "STAFFDESK_DEMO", "OPENAI_API_KEY",
		} {
			GinkgoT().Setenv(key, "")
		}
	})

	It("returns the defaults without a file", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.ListenAddr).To(Equal(":8080"))
		Expect(cfg.Relay.MaxDuration.Duration).To(Equal(30 * time.Second))
		Expect(cfg.Relay.Model).To(Equal("gpt-4o"))
		Expect(cfg.Backend.Provider).To(Equal(config.ProviderOpenAI))
		Expect(cfg.Archive.Enabled).To(BeFalse())
		Expect(cfg.Demo.Enabled).To(BeFalse())
	})

	It("tolerates a missing file", func() {
		_, err := config.Load(filepath.Join(dir, "absent.toml"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("reads TOML", func() {
		path := filepath.Join(dir, "config.toml")
		writeFile(path, `
[relay]
max_duration = "5s"
model = "llama3"

[backend]
provider = "ollama"
url = "http://localhost:11434"

[backend.options]
temperature = 0.3

[archive]
enabled = true
path = "/tmp/archive.db"
`)
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Relay.MaxDuration.Duration).To(Equal(5 * time.Second))
		Expect(cfg.Relay.Model).To(Equal("llama3"))
		Expect(cfg.Backend.Provider).To(Equal(config.ProviderOllama))
		Expect(*cfg.Backend.Options.Temperature).To(Equal(0.3))
		Expect(cfg.Archive.Path).To(Equal("/tmp/archive.db"))
	})

	It("lets the environment override the file", func() {
		path := filepath.Join(dir, "config.toml")
		writeFile(path, "[relay]\nmodel = \"from-file\"\n")
		GinkgoT().Setenv("STAFFDESK_MODEL", "from-env")
		GinkgoT().Setenv("OPENAI_API_KEY", "sk-test")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Relay.Model).To(Equal("from-env"))
		Expect(cfg.Backend.APIKey).To(Equal("sk-test"))
	})

	It("reports malformed TOML", func() {
		path := filepath.Join(dir, "config.toml")
		writeFile(path, "[relay\n")
		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("rejects invalid settings",
		func(body, want string) {
			path := filepath.Join(dir, "config.toml")
			writeFile(path, body)
			_, err := config.Load(path)
			Expect(err).To(MatchError(ContainSubstring(want)))
		},
		Entry("non-positive ceiling", "[relay]\nmax_duration = \"0s\"\n", "max_duration"),
		Entry("unknown provider", "[backend]\nprovider = \"acme\"\n", "unknown backend.provider"),
		Entry("demo without demo mode", "[backend]\nprovider = \"demo\"\n", "demo.enabled"),
		Entry("missing url", "[backend]\nprovider = \"ollama\"\nurl = \"\"\n", "backend.url"),
	)

	It("allows the demo backend in demo mode", func() {
		path := filepath.Join(dir, "config.toml")
		writeFile(path, "[backend]\nprovider = \"demo\"\n[demo]\nenabled = true\n")
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Demo.Enabled).To(BeTrue())
	})
})

var _ = Describe("Watch", func() {
	It("delivers valid edits and skips invalid ones", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "config.toml")
		writeFile(path, "[relay]\nmodel = \"first\"\n")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var latest atomic.Value
		var calls atomic.Int32
		go func() {
			defer GinkgoRecover()
			err := config.Watch(ctx, path, zap.NewNop(), func(cfg *config.Config) {
				calls.Add(1)
				latest.Store(cfg.Relay.Model)
			})
			Expect(err).NotTo(HaveOccurred())
		}()

		// Give the watcher time to register before editing.
		time.Sleep(100 * time.Millisecond)

		writeFile(path, "[relay]\nmax_duration = \"0s\"\n")
		Consistently(calls.Load, 400*time.Millisecond).Should(BeZero())

		writeFile(path, "[relay]\nmodel = \"second\"\n")
		Eventually(latest.Load, 2*time.Second).Should(Equal("second"))
	})
})
