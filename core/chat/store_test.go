package chat_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	. "github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/persistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

var _ = Describe("Store", func() {
	var (
		ctx       context.Context
		persister *persistence.MemoryStore
		clock     *fakeClock
		opts      Options
		store     *Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		persister = persistence.NewMemoryStore(0)
		clock = &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		opts = Options{Now: clock.Now, NewID: sequentialIDs()}
		var err error
		store, err = Open(ctx, persister, "chat:alice", opts)
		Expect(err).ToNot(HaveOccurred())
	})

	persisted := func() State {
		data, ok, err := persister.Load(ctx, "chat:alice")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		var st State
		Expect(json.Unmarshal(data, &st)).To(Succeed())
		return st
	}

	settleWith := func(id, url string, video bool) {
		Expect(store.AppendMessage("", NewPlaceholder(id, clock.Now(), "m"))).To(Succeed())
		Expect(store.MarkGenerationSucceeded(id, []string{url}, video, nil)).To(Succeed())
	}

	It("starts with exactly one empty current session", func() {
		sessions := store.Sessions()
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Current).To(BeTrue())
		Expect(sessions[0].Name).To(Equal(DefaultSessionName))
	})

	It("replaces the last session with a fresh one when it is deleted", func() {
		only := store.Current().ID
		Expect(store.DeleteSession(only)).To(Succeed())
		sessions := store.Sessions()
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].ID).ToNot(Equal(only))
		Expect(sessions[0].MessageCount).To(BeZero())
		Expect(store.Current().ID).To(Equal(sessions[0].ID))
	})

	It("selects the most recently updated session when the current one is deleted", func() {
		first := store.Current().ID
		second, err := store.CreateSession("second")
		Expect(err).ToNot(HaveOccurred())
		third, err := store.CreateSession("third")
		Expect(err).ToNot(HaveOccurred())

		// touch the first session so it becomes the most recently updated
		Expect(store.AppendMessage(first, NewUserMessage("u1", clock.Now(), UserContent{Prompt: "hi"}))).To(Succeed())
		Expect(store.SwitchSession(second.ID)).To(Succeed())
		Expect(store.DeleteSession(second.ID)).To(Succeed())
		Expect(store.Current().ID).To(Equal(first))

		Expect(store.DeleteSession(third.ID)).To(Succeed())
		Expect(store.Current().ID).To(Equal(first))
	})

	It("reports unknown sessions and messages", func() {
		Expect(store.SwitchSession("nope")).To(MatchError(ErrSessionNotFound))
		Expect(store.DeleteMessage("", "nope")).To(MatchError(ErrMessageNotFound))
		Expect(store.MarkGenerationFailed("nope", "x")).To(MatchError(ErrMessageNotFound))
	})

	It("sanitizes session names", func() {
		s, err := store.CreateSession("<b>Cats</b><script>x</script>")
		Expect(err).ToNot(HaveOccurred())
		Expect(s.Name).To(Equal("Cats"))
		Expect(store.RenameSession(s.ID, "   ")).To(Succeed())
		sess, _ := store.Session(s.ID)
		Expect(sess.Name).To(Equal(DefaultSessionName))
	})

	It("keeps append order and updates placeholders in place", func() {
		Expect(store.AppendMessage("",
			NewUserMessage("u1", clock.Now(), UserContent{Prompt: "a cat", ModelID: "flux-schnell"}),
			NewPlaceholder("a1", clock.Now(), "flux-schnell"),
		)).To(Succeed())
		seed := int64(42)
		Expect(store.MarkGenerationSucceeded("a1", []string{"https://x/1.png"}, false, &seed)).To(Succeed())

		msgs, err := store.Messages("")
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].ID).To(Equal("u1"))
		Expect(msgs[1].ID).To(Equal("a1"))
		Expect(msgs[1].Status()).To(Equal(StatusSucceeded))
		Expect(*msgs[1].Content.Assistant.Seed).To(Equal(int64(42)))
	})

	It("never leaves a terminal status", func() {
		Expect(store.AppendMessage("", NewPlaceholder("a1", clock.Now(), "m"))).To(Succeed())
		Expect(store.MarkGenerationFailed("a1", "boom")).To(Succeed())

		Expect(store.MarkGenerationSucceeded("a1", []string{"u"}, false, nil)).To(MatchError(ErrMessageSettled))
		Expect(store.UpdateMessage("a1", func(m Message) Message {
			m.Content.Assistant.Status = StatusProcessing
			return m
		})).To(MatchError(ErrMessageSettled))

		m, err := store.Message("a1")
		Expect(err).ToNot(HaveOccurred())
		Expect(m.Status()).To(Equal(StatusFailed))
		Expect(m.Content.Assistant.Error).To(Equal("boom"))
	})

	It("settles a placeholder even after the user switched session", func() {
		Expect(store.AppendMessage("", NewPlaceholder("a1", clock.Now(), "m"))).To(Succeed())
		_, err := store.CreateSession("other")
		Expect(err).ToNot(HaveOccurred())
		Expect(store.MarkGenerationSucceeded("a1", []string{"u"}, false, nil)).To(Succeed())
		m, _ := store.Message("a1")
		Expect(m.Status()).To(Equal(StatusSucceeded))
	})

	Context("auto-attach", func() {
		It("picks the newest succeeded image, not the oldest", func() {
			settleWith("m1", "https://x/old.png", false)
			settleWith("m2", "https://x/new.png", false)
			url, ok := store.AutoAttachCandidate("", true)
			Expect(ok).To(BeTrue())
			Expect(url).To(Equal("https://x/new.png"))
		})

		It("skips videos, failures and processing messages", func() {
			settleWith("m1", "https://x/img.png", false)
			settleWith("m2", "https://x/clip.mp4", true)
			Expect(store.AppendMessage("", NewPlaceholder("m3", clock.Now(), "m"))).To(Succeed())
			Expect(store.AppendMessage("", NewPlaceholder("m4", clock.Now(), "m"))).To(Succeed())
			Expect(store.MarkGenerationFailed("m4", "x")).To(Succeed())
			url, ok := store.AutoAttachCandidate("", true)
			Expect(ok).To(BeTrue())
			Expect(url).To(Equal("https://x/img.png"))
		})

		It("only looks at the session it is asked about", func() {
			first := store.Current().ID
			other, err := store.CreateSession("other")
			Expect(err).ToNot(HaveOccurred())
			settleWith("m1", "https://x/other.png", false)

			_, ok := store.AutoAttachCandidate(first, true)
			Expect(ok).To(BeFalse())
			url, ok := store.AutoAttachCandidate(other.ID, true)
			Expect(ok).To(BeTrue())
			Expect(url).To(Equal("https://x/other.png"))
			_, ok = store.AutoAttachCandidate("missing", true)
			Expect(ok).To(BeFalse())
		})

		It("offers nothing to models without image input", func() {
			settleWith("m1", "https://x/img.png", false)
			_, ok := store.AutoAttachCandidate("", false)
			Expect(ok).To(BeFalse())
		})

		It("stays dismissed across session switches until the next success", func() {
			settleWith("m1", "https://x/img.png", false)
			first := store.Current().ID
			Expect(store.DismissAutoAttach()).To(Succeed())
			_, ok := store.AutoAttachCandidate("", true)
			Expect(ok).To(BeFalse())

			other, err := store.CreateSession("other")
			Expect(err).ToNot(HaveOccurred())
			Expect(store.SwitchSession(first)).To(Succeed())
			Expect(store.AutoAttachDisabled()).To(BeTrue())
			_, ok = store.AutoAttachCandidate("", true)
			Expect(ok).To(BeFalse())

			Expect(store.SwitchSession(other.ID)).To(Succeed())
			settleWith("m2", "https://x/next.png", false)
			Expect(store.AutoAttachDisabled()).To(BeFalse())
			url, ok := store.AutoAttachCandidate("", true)
			Expect(ok).To(BeTrue())
			Expect(url).To(Equal("https://x/next.png"))
		})
	})

	Context("persistence", func() {
		It("fails placeholders left processing when it hydrates", func() {
			Expect(store.AppendMessage("", NewPlaceholder("a1", clock.Now(), "m"))).To(Succeed())
			settleWith("a2", "https://x/done.png", false)
			before := store.Current().UpdatedAt

			reopened, err := Open(ctx, persister, "chat:alice", opts)
			Expect(err).ToNot(HaveOccurred())
			m, err := reopened.Message("a1")
			Expect(err).ToNot(HaveOccurred())
			Expect(m.Status()).To(Equal(StatusFailed))
			Expect(m.Content.Assistant.Error).To(Equal(InterruptedGeneration))
			Expect(reopened.MarkGenerationSucceeded("a1", []string{"u"}, false, nil)).To(MatchError(ErrMessageSettled))

			done, _ := reopened.Message("a2")
			Expect(done.Status()).To(Equal(StatusSucceeded))
			Expect(reopened.Current().UpdatedAt).To(BeTemporally("==", before))
		})

		It("hydrates what was saved", func() {
			Expect(store.AppendMessage("", NewUserMessage("u1", clock.Now(), UserContent{Prompt: "hello"}))).To(Succeed())
			Expect(store.DismissAutoAttach()).To(Succeed())

			reopened, err := Open(ctx, persister, "chat:alice", opts)
			Expect(err).ToNot(HaveOccurred())
			msgs, _ := reopened.Messages("")
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Content.User.Prompt).To(Equal("hello"))
			Expect(reopened.AutoAttachDisabled()).To(BeTrue())
		})

		It("starts fresh from unreadable state", func() {
			Expect(persister.Save(ctx, "chat:bob", []byte("{broken"))).To(Succeed())
			s, err := Open(ctx, persister, "chat:bob", opts)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.Sessions()).To(HaveLen(1))
		})

		It("caps sessions and messages, keeping the newest", func() {
			small := Options{Now: clock.Now, NewID: sequentialIDs(), MaxPersistedSessions: 2, MaxPersistedMessages: 3}
			s, err := Open(ctx, persister, "chat:carol", small)
			Expect(err).ToNot(HaveOccurred())
			for i := 0; i < 3; i++ {
				_, err := s.CreateSession(fmt.Sprintf("s%d", i))
				Expect(err).ToNot(HaveOccurred())
			}
			for i := 0; i < 5; i++ {
				Expect(s.AppendMessage("", NewUserMessage(fmt.Sprintf("u%d", i), clock.Now(), UserContent{Prompt: "p"}))).To(Succeed())
			}

			data, _, _ := persister.Load(ctx, "chat:carol")
			var st State
			Expect(json.Unmarshal(data, &st)).To(Succeed())
			Expect(st.Sessions).To(HaveLen(2))
			current := s.Current()
			Expect(current.Messages).To(HaveLen(5))
			var saved Session
			for _, sess := range st.Sessions {
				if sess.ID == current.ID {
					saved = sess
				}
			}
			Expect(saved.Messages).To(HaveLen(3))
			Expect(saved.Messages[2].ID).To(Equal("u4"))
			Expect(saved.Messages[0].ID).To(Equal("u2"))
		})

		It("shrinks the persisted window when the quota is exceeded", func() {
			long := strings.Repeat("x", 1000)
			for i := 0; i < 10; i++ {
				Expect(store.AppendMessage("", NewUserMessage(fmt.Sprintf("u%d", i), clock.Now(), UserContent{Prompt: long}))).To(Succeed())
			}
			persister.SetQuota(3000)
			Expect(store.AppendMessage("", NewUserMessage("last", clock.Now(), UserContent{Prompt: long}))).To(Succeed())

			st := persisted()
			Expect(st.Sessions).To(HaveLen(1))
			msgs := st.Sessions[0].Messages
			Expect(len(msgs)).To(BeNumerically(">=", 1))
			Expect(len(msgs)).To(BeNumerically("<", 11))
			Expect(msgs[len(msgs)-1].ID).To(Equal("last"))

			inMemory, _ := store.Messages("")
			Expect(inMemory).To(HaveLen(11))
		})

		It("keeps working in memory when nothing fits", func() {
			persister.SetQuota(10)
			Expect(store.AppendMessage("", NewUserMessage("u1", clock.Now(), UserContent{Prompt: "hello"}))).To(Succeed())
			msgs, _ := store.Messages("")
			Expect(msgs).To(HaveLen(1))
		})
	})

	It("prunes idle sessions without leaving zero", func() {
		old := store.Current().ID
		cutoff := clock.Now()
		fresh, err := store.CreateSession("fresh")
		Expect(err).ToNot(HaveOccurred())
		Expect(store.SwitchSession(old)).To(Succeed())

		Expect(store.PruneIdle(cutoff)).To(Equal(1))
		Expect(store.Current().ID).To(Equal(fresh.ID))

		Expect(store.PruneIdle(clock.Now().Add(time.Hour))).To(Equal(1))
		Expect(store.Sessions()).To(HaveLen(1))
	})
})
