package chatclient_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/auth"
	"github.com/papercomputeco/staffdesk/pkg/backend"
	"github.com/papercomputeco/staffdesk/pkg/backend/backendtest"
	"github.com/papercomputeco/staffdesk/pkg/chatclient"
	"github.com/papercomputeco/staffdesk/pkg/config"
	"github.com/papercomputeco/staffdesk/pkg/llm"
	"github.com/papercomputeco/staffdesk/relay"
)

const testSecret = "chatclient-test-secret"

// startRelay serves a relay around be on a loopback listener.
func startRelay(be backend.Backend, mutate func(*config.Config)) string {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	r, err := relay.New(cfg, be, nil, zap.NewNop())
	Expect(err).NotTo(HaveOccurred())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	go func() {
		_ = r.RunWithListener(listener)
	}()
	DeferCleanup(func() {
		_ = r.Shutdown(time.Second)
	})

	return "http://" + listener.Addr().String()
}

type recorder struct {
	mu      sync.Mutex
	updates []chatclient.Entry
}

func (r *recorder) record(e chatclient.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, e)
}

func (r *recorder) all() []chatclient.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chatclient.Entry(nil), r.updates...)
}

var _ = Describe("Session", func() {
	var (
		ctx context.Context
		rec *recorder
	)

	BeforeEach(func() {
		ctx = context.Background()
		rec = &recorder{}
	})

	Context("when the reply completes", func() {
		It("finalizes the assistant entry and keeps it for the next turn", func() {
			be := &backendtest.Scripted{Chunks: []string{"Hel", "lo", " there"}}
			session := chatclient.NewSession(chatclient.New(startRelay(be, nil)), rec.record)

			Expect(session.Send(ctx, "Hi")).To(Succeed())

			transcript := session.Transcript()
			Expect(transcript).To(HaveLen(2))
			Expect(transcript[0]).To(Equal(chatclient.Entry{Role: llm.RoleUser, Content: "Hi", State: chatclient.EntryComplete}))
			Expect(transcript[1]).To(Equal(chatclient.Entry{Role: llm.RoleAssistant, Content: "Hello there", State: chatclient.EntryComplete}))

			updates := rec.all()
			Expect(updates).To(HaveLen(4))
			Expect(updates[0].Content).To(Equal("Hel"))
			Expect(updates[0].State).To(Equal(chatclient.EntryStreaming))
			Expect(updates[1].Content).To(Equal("Hello"))
			Expect(updates[3].State).To(Equal(chatclient.EntryComplete))

			Expect(session.Conversation()).To(Equal(llm.Conversation{
				{Role: llm.RoleUser, Content: "Hi"},
				{Role: llm.RoleAssistant, Content: "Hello there"},
			}))
		})

		It("resends the whole conversation on the next turn", func() {
			be := &backendtest.Scripted{Chunks: []string{"ok"}}
			session := chatclient.NewSession(chatclient.New(startRelay(be, nil)), nil)

			Expect(session.Send(ctx, "first")).To(Succeed())
			Expect(session.Send(ctx, "second")).To(Succeed())

			streams := be.Streams()
			Expect(streams).To(HaveLen(2))
			Expect(streams[1].Request.Messages).To(Equal(llm.Conversation{
				{Role: llm.RoleUser, Content: "first"},
				{Role: llm.RoleAssistant, Content: "ok"},
				{Role: llm.RoleUser, Content: "second"},
			}))
		})
	})

	Context("when the backend drops mid-stream", func() {
		It("keeps the partial entry and returns the error", func() {
			be := &backendtest.Scripted{
				Chunks: []string{"Par"},
				End:    llm.BackendInterruptedError("connection reset", io.ErrUnexpectedEOF),
			}
			session := chatclient.NewSession(chatclient.New(startRelay(be, nil)), rec.record)

			err := session.Send(ctx, "Hi")
			Expect(llm.IsCode(err, llm.CodeBackendInterrupted)).To(BeTrue())

			transcript := session.Transcript()
			Expect(transcript).To(HaveLen(2))
			Expect(transcript[1]).To(Equal(chatclient.Entry{Role: llm.RoleAssistant, Content: "Par", State: chatclient.EntryPartial}))
			Expect(session.Conversation()[1].Content).To(Equal("Par"))
			Expect(session.Busy()).To(BeFalse())
		})
	})

	Context("when the reply exceeds the relay's ceiling", func() {
		It("reports a timeout and keeps what arrived", func() {
			be := &backendtest.Scripted{Chunks: []string{"slow"}, Hang: true}
			url := startRelay(be, func(cfg *config.Config) {
				cfg.Relay.MaxDuration = config.Duration{Duration: 150 * time.Millisecond}
			})
			session := chatclient.NewSession(chatclient.New(url), nil)

			err := session.Send(ctx, "Hi")
			Expect(llm.IsCode(err, llm.CodeTimeout)).To(BeTrue())
			Expect(session.Transcript()[1]).To(Equal(chatclient.Entry{Role: llm.RoleAssistant, Content: "slow", State: chatclient.EntryPartial}))
		})
	})

	Context("when the request fails before any chunk", func() {
		It("creates no assistant entry", func() {
			be := &backendtest.Scripted{OpenErr: llm.BackendUnavailableError("upstream down", nil)}
			session := chatclient.NewSession(chatclient.New(startRelay(be, nil)), rec.record)

			err := session.Send(ctx, "Hi")
			Expect(llm.IsCode(err, llm.CodeBackendUnavailable)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("upstream down"))
			Expect(session.Transcript()).To(HaveLen(1))
			Expect(rec.all()).To(BeEmpty())
		})

		It("reports an unreachable relay", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			url := "http://" + listener.Addr().String()
			listener.Close()

			session := chatclient.NewSession(chatclient.New(url), nil)
			err = session.Send(ctx, "Hi")
			Expect(llm.IsCode(err, llm.CodeBackendUnavailable)).To(BeTrue())
			Expect(session.Transcript()).To(HaveLen(1))
		})
	})

	It("rejects an empty message without contacting the relay", func() {
		be := &backendtest.Scripted{Chunks: []string{"never"}}
		session := chatclient.NewSession(chatclient.New(startRelay(be, nil)), nil)

		Expect(llm.IsCode(session.Send(ctx, "   "), llm.CodeValidation)).To(BeTrue())
		Expect(be.Calls()).To(Equal(0))
		Expect(session.Transcript()).To(BeEmpty())
	})

	It("refuses a second message while a reply streams", func() {
		be := &backendtest.Scripted{Chunks: []string{"a", "b"}, Delay: 200 * time.Millisecond}
		session := chatclient.NewSession(chatclient.New(startRelay(be, nil)), nil)

		done := make(chan error, 1)
		go func() { done <- session.Send(ctx, "first") }()

		Eventually(session.Busy).Should(BeTrue())
		Expect(session.Send(ctx, "second")).To(MatchError(chatclient.ErrBusy))
		Expect(session.Reset()).To(MatchError(chatclient.ErrBusy))
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))

		Expect(session.Reset()).To(Succeed())
		Expect(session.Conversation()).To(BeEmpty())
	})

	Context("with bearer auth enabled", func() {
		var url string

		BeforeEach(func() {
			url = startRelay(&backendtest.Scripted{Chunks: []string{"ok"}}, func(cfg *config.Config) {
				cfg.Auth.JWTSecret = testSecret
			})
		})

		It("is rejected without a token", func() {
			session := chatclient.NewSession(chatclient.New(url), nil)
			Expect(llm.IsCode(session.Send(ctx, "Hi"), llm.CodeUnauthorized)).To(BeTrue())
		})

		It("sends the stored token", func() {
			a, err := auth.New(testSecret, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			token, err := a.Issue("alice")
			Expect(err).NotTo(HaveOccurred())

			store, err := chatclient.NewTokenStore(GinkgoT().TempDir() + "/token")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Save(token)).To(Succeed())

			session := chatclient.NewSession(chatclient.New(url, chatclient.WithTokenStore(store)), nil)
			Expect(session.Send(ctx, "Hi")).To(Succeed())
		})
	})
})

var _ = Describe("Client", func() {
	It("treats a stream closed without a terminal frame as interrupted", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Par"},"done":false}`+"\n")
		}))
		DeferCleanup(srv.Close)

		var got []string
		reason, err := chatclient.New(srv.URL).Stream(context.Background(),
			llm.Conversation{{Role: llm.RoleUser, Content: "Hi"}},
			func(s string) { got = append(got, s) })

		Expect(reason).To(Equal(llm.DoneInterrupted))
		Expect(llm.IsCode(err, llm.CodeBackendInterrupted)).To(BeTrue())
		Expect(got).To(Equal([]string{"Par"}))
	})

	It("decodes relay error replies", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"messages is required","code":"validation_error","request_id":"r1"}`)
		}))
		DeferCleanup(srv.Close)

		_, err := chatclient.New(srv.URL).Stream(context.Background(), nil, func(string) {})
		Expect(llm.IsCode(err, llm.CodeValidation)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("messages is required"))
	})

	It("falls back to the status for non-JSON errors", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		DeferCleanup(srv.Close)

		_, err := chatclient.New(srv.URL).Stream(context.Background(), nil, func(string) {})
		Expect(llm.IsCode(err, llm.CodeBackendUnavailable)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("502"))
	})
})
