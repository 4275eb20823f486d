package services_test

import (
	"context"
	"encoding/json"
	"os"
	"time"

	. "github.com/mudler/genstudio/core/services"
	"github.com/nats-io/nats.go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
)

var _ = Describe("NATSPublisher", Label("integration"), func() {
	var url string

	BeforeEach(func() {
		if os.Getenv("GENSTUDIO_TEST_NATS") != "true" {
			Skip("set GENSTUDIO_TEST_NATS=true to run against a NATS container")
		}
		ctx := context.Background()
		ctr, err := tcnats.Run(ctx, "nats:2.10")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() {
			Expect(testcontainers.TerminateContainer(ctr)).To(Succeed())
		})
		url, err = ctr.ConnectionString(ctx)
		Expect(err).ToNot(HaveOccurred())
	})

	It("publishes events on a per type subject", func() {
		pub, err := NewNATSPublisher(url, "genstudio.generations")
		Expect(err).ToNot(HaveOccurred())
		defer pub.Close()

		nc, err := nats.Connect(url)
		Expect(err).ToNot(HaveOccurred())
		defer nc.Close()
		sub, err := nc.SubscribeSync("genstudio.generations.*")
		Expect(err).ToNot(HaveOccurred())
		Expect(nc.Flush()).To(Succeed())

		Expect(pub.Publish(context.Background(), GenerationEvent{
			Type:      EventGenerationFailed,
			MessageID: "m1",
			Error:     "boom",
		})).To(Succeed())

		msg, err := sub.NextMsg(5 * time.Second)
		Expect(err).ToNot(HaveOccurred())
		Expect(msg.Subject).To(Equal("genstudio.generations.failed"))
		var e GenerationEvent
		Expect(json.Unmarshal(msg.Data, &e)).To(Succeed())
		Expect(e.MessageID).To(Equal("m1"))
		Expect(e.Error).To(Equal("boom"))
	})
})
