package application_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const customSchema = `id: my-upscaler
name: My Upscaler
category: image
model: acme/upscaler
required: [image]
properties:
  image:
    type: string
    uri: true
    title: Image
  scale:
    type: integer
    default: 2
    minimum: 1
    maximum: 4
`

var _ = Describe("Application", func() {
	var (
		modelsDir string
		app       *application.Application
	)

	BeforeEach(func() {
		modelsDir = GinkgoT().TempDir()
	})

	AfterEach(func() {
		if app != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(app.Shutdown(ctx)).To(Succeed())
			app = nil
		}
	})

	newApp := func(opts ...config.AppOption) *application.Application {
		base := []config.AppOption{
			config.WithModelsPath(modelsDir),
			config.WithStateBackend(config.StateBackendMemory),
			config.DisableMetricsEndpoint,
		}
		a, err := application.New(append(base, opts...)...)
		Expect(err).ToNot(HaveOccurred())
		return a
	}

	It("loads the built-in schemas and the ones of the models path", func() {
		Expect(os.WriteFile(filepath.Join(modelsDir, "upscaler.yaml"), []byte(customSchema), 0600)).To(Succeed())
		app = newApp()

		_, ok := app.ModelSchemaLoader().GetModelSchema("flux-schnell")
		Expect(ok).To(BeTrue())
		s, ok := app.ModelSchemaLoader().GetModelSchema("my-upscaler")
		Expect(ok).To(BeTrue())
		Expect(s.Model).To(Equal("acme/upscaler"))
	})

	It("wires the services", func() {
		app = newApp(config.WithTracing(true, 10))
		Expect(app.Chats()).ToNot(BeNil())
		Expect(app.Workspaces()).ToNot(BeNil())
		Expect(app.GenerationService()).ToNot(BeNil())
		Expect(app.Traces()).ToNot(BeNil())
		Expect(app.MetricsService()).To(BeNil())

		ws, schema, err := app.Workspaces().Get(context.Background(), "alice")
		Expect(err).ToNot(HaveOccurred())
		Expect(ws.ModelID).To(Equal("flux-schnell"))
		Expect(schema.ID).To(Equal("flux-schnell"))
	})

	It("fails on an invalid retention schedule", func() {
		_, err := application.New(
			config.WithModelsPath(modelsDir),
			config.WithStateBackend(config.StateBackendMemory),
			config.DisableMetricsEndpoint,
			config.WithSessionRetention(7, "not a schedule"),
		)
		Expect(err).To(HaveOccurred())
	})

	Context("watching the models path", func() {
		It("picks up new schema files", func() {
			app = newApp(config.EnableModelsWatcher)
			Expect(os.WriteFile(filepath.Join(modelsDir, "upscaler.yaml"), []byte(customSchema), 0600)).To(Succeed())

			Eventually(func() bool {
				_, ok := app.ModelSchemaLoader().GetModelSchema("my-upscaler")
				return ok
			}, 5*time.Second, 50*time.Millisecond).Should(BeTrue())

			Expect(os.Remove(filepath.Join(modelsDir, "upscaler.yaml"))).To(Succeed())
			Eventually(func() bool {
				_, ok := app.ModelSchemaLoader().GetModelSchema("my-upscaler")
				return ok
			}, 5*time.Second, 50*time.Millisecond).Should(BeFalse())
		})

		It("merges api_keys.json with the startup keys", func() {
			app = newApp(config.EnableModelsWatcher, config.WithApiKeys([]string{"startup"}))
			Expect(app.ApplicationConfig().GetApiKeys()).To(ConsistOf("startup"))

			Expect(os.WriteFile(filepath.Join(modelsDir, config.APIKeysFile), []byte(`["dynamic"]`), 0600)).To(Succeed())
			Eventually(app.ApplicationConfig().GetApiKeys, 5*time.Second, 50*time.Millisecond).
				Should(ConsistOf("startup", "dynamic"))

			// the keys file is never read as a schema
			Expect(app.ModelSchemaLoader().GetAllModelSchemas()).ToNot(BeEmpty())
		})
	})
})
