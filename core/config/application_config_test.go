package config

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ApplicationConfig", func() {
	It("starts from the studio defaults", func() {
		o := NewApplicationConfig()
		Expect(o.DefaultModel).To(Equal("flux-schnell"))
		Expect(o.StateBackend).To(Equal(StateBackendFile))
		Expect(o.GenerationPollInterval).To(Equal(time.Second))
		Expect(o.MaxPersistedSessions).To(Equal(20))
		Expect(o.MaxPersistedMessages).To(Equal(100))
	})

	It("ignores empty or zero overrides of defaults", func() {
		o := NewApplicationConfig(
			WithDefaultModel(""),
			WithStateBackend(""),
			WithGenerationPollInterval(0),
			WithPersistenceCaps(0, 10),
			WithSessionRetention(3, ""),
			WithNATS("nats://localhost:4222", ""),
		)
		Expect(o.DefaultModel).To(Equal("flux-schnell"))
		Expect(o.StateBackend).To(Equal(StateBackendFile))
		Expect(o.GenerationPollInterval).To(Equal(time.Second))
		Expect(o.MaxPersistedSessions).To(Equal(20))
		Expect(o.MaxPersistedMessages).To(Equal(10))
		Expect(o.SessionRetentionDays).To(Equal(3))
		Expect(o.RetentionSchedule).To(Equal("@hourly"))
		Expect(o.NATSSubject).To(Equal("genstudio.generations"))
	})

	It("skips exempted endpoints that do not compile", func() {
		o := NewApplicationConfig(WithHttpGetExemptedEndpoints([]string{"^/healthz$", "(["}))
		Expect(o.HttpGetExemptedEndpoints).To(HaveLen(1))
		Expect(o.HttpGetExemptedEndpoints[0].MatchString("/healthz")).To(BeTrue())
	})

	It("swaps API keys at runtime", func() {
		o := NewApplicationConfig(WithApiKeys([]string{"a"}))
		keys := o.GetApiKeys()
		o.SetApiKeys([]string{"a", "b"})
		Expect(keys).To(Equal([]string{"a"}))
		Expect(o.GetApiKeys()).To(Equal([]string{"a", "b"}))
	})
})
