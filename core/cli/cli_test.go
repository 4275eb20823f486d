package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	cliContext "github.com/mudler/genstudio/core/cli/context"
	"github.com/mudler/genstudio/core/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func parse(args ...string) *RunCMD {
	var cli struct {
		cliContext.Context `embed:""`

		Run RunCMD `cmd:"" default:"withargs"`
	}
	parser, err := kong.New(&cli, kong.Vars{"basepath": "/srv/genstudio"})
	Expect(err).ToNot(HaveOccurred())
	_, err = parser.Parse(args)
	Expect(err).ToNot(HaveOccurred())
	return &cli.Run
}

var _ = Describe("run command", func() {
	It("maps flags to the application config", func() {
		r := parse("run",
			"--default-model", "nano-banana",
			"--state-backend", "sqlite",
			"--api-keys", "alice=one,two",
			"--poll-interval", "250ms",
			"--session-retention-days", "7",
			"--enable-tracing",
			"--disable-metrics-endpoint",
			"--no-watch-models",
		)
		o := config.NewApplicationConfig(r.appOptions(&cliContext.Context{LogLevel: "debug"}, context.Background())...)

		Expect(o.ModelsPath).To(Equal("/srv/genstudio/models"))
		Expect(o.DefaultModel).To(Equal("nano-banana"))
		Expect(o.StateBackend).To(Equal(config.StateBackendSQLite))
		Expect(o.GetApiKeys()).To(Equal([]string{"alice=one", "two"}))
		Expect(o.GenerationPollInterval).To(Equal(250 * time.Millisecond))
		Expect(o.SessionRetentionDays).To(Equal(7))
		Expect(o.RetentionSchedule).To(Equal("@hourly"))
		Expect(o.EnableTracing).To(BeTrue())
		Expect(o.DisableMetrics).To(BeTrue())
		Expect(o.WatchModels).To(BeFalse())
		Expect(o.Debug).To(BeTrue())
		Expect(o.HttpGetExemptedEndpoints).To(HaveLen(4))
	})

	It("keeps the defaults", func() {
		r := parse()
		o := config.NewApplicationConfig(r.appOptions(&cliContext.Context{}, context.Background())...)

		Expect(o.WatchModels).To(BeTrue())
		Expect(o.DefaultModel).To(Equal("flux-schnell"))
		Expect(o.StateBackend).To(Equal(config.StateBackendFile))
		Expect(o.UploadLimitMB).To(Equal(15))
		Expect(o.S3AccessKeyID).To(BeEmpty())
		Expect(o.DisableMetrics).To(BeFalse())
		Expect(o.Debug).To(BeFalse())
	})

	It("defaults to info logs", func() {
		var cli struct {
			cliContext.Context `embed:""`
		}
		parser, err := kong.New(&cli)
		Expect(err).ToNot(HaveOccurred())
		_, err = parser.Parse(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(cli.LogLevel).To(Equal("info"))
		Expect(cli.Debug()).To(BeFalse())
		Expect(cli.Logger()).ToNot(BeNil())
	})
})

var _ = Describe("environment files", func() {
	It("loads the files that exist without overriding earlier values", func() {
		dir := GinkgoT().TempDir()
		first := filepath.Join(dir, "first.env")
		second := filepath.Join(dir, "second.env")
		Expect(os.WriteFile(first, []byte("GENSTUDIO_ENVFILE_A=first\n"), 0o600)).To(Succeed())
		Expect(os.WriteFile(second, []byte("GENSTUDIO_ENVFILE_A=second\nGENSTUDIO_ENVFILE_B=second\n"), 0o600)).To(Succeed())
		DeferCleanup(func() {
			os.Unsetenv("GENSTUDIO_ENVFILE_A")
			os.Unsetenv("GENSTUDIO_ENVFILE_B")
		})

		loaded := LoadEnvFiles(filepath.Join(dir, "missing.env"), first, second)
		Expect(loaded).To(Equal([]string{first, second}))
		Expect(os.Getenv("GENSTUDIO_ENVFILE_A")).To(Equal("first"))
		Expect(os.Getenv("GENSTUDIO_ENVFILE_B")).To(Equal("second"))
	})

	It("looks in the working directory first and /etc last", func() {
		files := EnvFiles()
		Expect(files[0]).To(Equal(".env"))
		Expect(files[len(files)-1]).To(Equal("/etc/genstudio.env"))
	})
})

var _ = Describe("models command", func() {
	var loader *config.ModelSchemaLoader

	BeforeEach(func() {
		loader = config.NewModelSchemaLoader()
		Expect(loader.LoadDefaults()).To(Succeed())
	})

	It("renders a schema as a markdown table in display order", func() {
		s, err := loader.MustGetModelSchema("flux-1.1-pro")
		Expect(err).ToNot(HaveOccurred())

		md := schemaMarkdown(s)
		Expect(md).To(HavePrefix("# FLUX1.1 [pro]"))
		Expect(md).To(ContainSubstring("`black-forest-labs/flux-1.1-pro`"))
		Expect(md).To(ContainSubstring("| prompt | string | yes |"))
		Expect(md).To(ContainSubstring("| image_prompt | image |"))
		Expect(md).To(ContainSubstring("| width | integer |  |  | 256 to 1440 |"))
		Expect(md).To(ContainSubstring("aspect ratio"))
		Expect(bytes.Index([]byte(md), []byte("| prompt |"))).To(BeNumerically("<", bytes.Index([]byte(md), []byte("| width |"))))
	})

	It("reports invalid schema files", func() {
		dir := GinkgoT().TempDir()
		good := filepath.Join(dir, "good.yaml")
		bad := filepath.Join(dir, "bad.yaml")
		Expect(os.WriteFile(good, []byte("id: custom\nmodel: me/custom\nproperties:\n  prompt:\n    type: string\n"), 0o600)).To(Succeed())
		Expect(os.WriteFile(bad, []byte("id: broken\nrequired: [missing]\nproperties:\n  prompt:\n    type: string\n"), 0o600)).To(Succeed())

		files, err := config.ModelSchemaFiles(dir)
		Expect(err).ToNot(HaveOccurred())
		Expect(files).To(Equal([]string{bad, good}))

		var out bytes.Buffer
		err = validateFiles(&out, files)
		Expect(err).To(MatchError(ContainSubstring("bad.yaml")))
		Expect(out.String()).To(ContainSubstring("FAIL " + bad))
		Expect(out.String()).To(ContainSubstring("ok   " + good))
	})
})
