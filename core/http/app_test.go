package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mudler/genstudio/core/application"
	"github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/config"
	. "github.com/mudler/genstudio/core/http"
	"github.com/mudler/genstudio/core/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/phayes/freeport"
)

const (
	aliceKey = "joshua"
	bobKey   = "bob-secret"
)

// fakeReplicate answers every prediction synchronously. A prompt of "fail"
// produces a failed prediction.
type fakeReplicate struct {
	*httptest.Server
	mu     sync.Mutex
	inputs []map[string]any
}

func newFakeReplicate() *fakeReplicate {
	f := &fakeReplicate{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /models/{owner}/{name}/predictions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input map[string]any `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.inputs = append(f.inputs, body.Input)
		n := len(f.inputs)
		f.mu.Unlock()

		pred := map[string]any{"id": fmt.Sprintf("p%d", n), "status": "succeeded", "input": body.Input}
		if body.Input["prompt"] == "fail" {
			pred["status"] = "failed"
			pred["error"] = "NSFW content detected"
		} else {
			pred["output"] = []string{fmt.Sprintf("https://replicate.delivery/%s/out-%d.webp", r.PathValue("name"), n)}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(pred)
	})
	f.Server = httptest.NewServer(mux)
	return f
}

func (f *fakeReplicate) lastInput() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

var _ = Describe("API", func() {
	var (
		app      *application.Application
		e        *echo.Echo
		replic   *fakeReplicate
		baseURL  string
		ctx      context.Context
		cancel   context.CancelFunc
		contentD string
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		replic = newFakeReplicate()
		contentD = GinkgoT().TempDir()

		var err error
		app, err = application.New(
			config.WithContext(ctx),
			config.WithModelsPath(modelDir),
			config.WithStateBackend(config.StateBackendMemory),
			config.WithReplicateAPIToken("r8_test"),
			config.WithReplicateBaseURL(replic.URL),
			config.WithGenerationPollInterval(10*time.Millisecond),
			config.WithGeneratedContentDir(contentD),
			config.WithApiKeys([]string{"alice=" + aliceKey, bobKey}),
			config.WithTracing(true, 20),
		)
		Expect(err).ToNot(HaveOccurred())

		e, err = API(app)
		Expect(err).ToNot(HaveOccurred())

		port, err := freeport.GetFreePort()
		Expect(err).ToNot(HaveOccurred())
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		baseURL = "http://" + addr
		go func() {
			if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
				GinkgoWriter.Println("server stopped:", err)
			}
		}()
		Eventually(func() error {
			resp, err := http.Get(baseURL + "/readyz")
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		}, 5*time.Second, 20*time.Millisecond).Should(Succeed())
	})

	AfterEach(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		Expect(e.Shutdown(sctx)).To(Succeed())
		Expect(app.Shutdown(sctx)).To(Succeed())
		replic.Close()
		cancel()
	})

	request := func(method, path, key string, body io.Reader, contentType string) (int, []byte) {
		req, err := http.NewRequest(method, baseURL+path, body)
		Expect(err).ToNot(HaveOccurred())
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).ToNot(HaveOccurred())
		return resp.StatusCode, data
	}
	getJSON := func(path, key string, out any) int {
		code, data := request(http.MethodGet, path, key, nil, "")
		if out != nil && code < 300 {
			Expect(json.Unmarshal(data, out)).To(Succeed(), string(data))
		}
		return code
	}
	sendJSON := func(method, path, key string, in, out any) int {
		var body io.Reader
		if in != nil {
			data, err := json.Marshal(in)
			Expect(err).ToNot(HaveOccurred())
			body = bytes.NewReader(data)
		}
		code, data := request(method, path, key, body, echo.MIMEApplicationJSON)
		if out != nil && len(data) > 0 {
			Expect(json.Unmarshal(data, out)).To(Succeed(), string(data))
		}
		return code
	}
	waitSettled := func(key, messageID string) chat.Message {
		var m chat.Message
		Eventually(func() chat.Status {
			Expect(getJSON("/api/messages/"+messageID, key, &m)).To(Equal(http.StatusOK))
			return m.Status()
		}, 5*time.Second, 20*time.Millisecond).Should(BeElementOf(chat.StatusSucceeded, chat.StatusFailed))
		return m
	}

	Context("authentication", func() {
		It("leaves health checks open", func() {
			code, _ := request(http.MethodGet, "/healthz", "", nil, "")
			Expect(code).To(Equal(http.StatusOK))
		})

		It("requires a key on the API", func() {
			code, data := request(http.MethodGet, "/api/models", "", nil, "")
			Expect(code).To(Equal(http.StatusUnauthorized))
			var resp schema.ErrorResponse
			Expect(json.Unmarshal(data, &resp)).To(Succeed())
			Expect(resp.Error.Type).To(Equal(schema.ErrorTypeAuthentication))

			code, _ = request(http.MethodGet, "/api/models", "wrong", nil, "")
			Expect(code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the x-api-key header", func() {
			req, err := http.NewRequest(http.MethodGet, baseURL+"/api/models", nil)
			Expect(err).ToNot(HaveOccurred())
			req.Header.Set("x-api-key", bobKey)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).ToNot(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Context("models", func() {
		It("lists, searches and filters the registry", func() {
			var all schema.ModelsResponse
			Expect(getJSON("/api/models", aliceKey, &all)).To(Equal(http.StatusOK))
			Expect(len(all.Models)).To(BeNumerically(">=", 7))

			var videos schema.ModelsResponse
			Expect(getJSON("/api/models?category=video", aliceKey, &videos)).To(Equal(http.StatusOK))
			Expect(videos.Models).To(HaveLen(1))
			Expect(videos.Models[0].ID).To(Equal("seedance-1-lite"))

			var kontext schema.ModelsResponse
			Expect(getJSON("/api/models?q=kontext", aliceKey, &kontext)).To(Equal(http.StatusOK))
			Expect(kontext.Models).ToNot(BeEmpty())
			Expect(kontext.Models[0].Capabilities.ImageInput).To(BeTrue())
		})

		It("returns a schema and its capabilities", func() {
			var caps config.Capabilities
			Expect(getJSON("/api/models/flux-kontext-pro/capabilities", aliceKey, &caps)).To(Equal(http.StatusOK))
			Expect(caps.ImageInputField).To(Equal("input_image"))

			code, data := request(http.MethodGet, "/api/models/nope", aliceKey, nil, "")
			Expect(code).To(Equal(http.StatusNotFound))
			Expect(string(data)).To(ContainSubstring(schema.ErrorTypeNotFound))
		})
	})

	Context("workspace", func() {
		It("edits parameters and renders the form", func() {
			var ws schema.WorkspaceResponse
			Expect(getJSON("/api/workspace", aliceKey, &ws)).To(Equal(http.StatusOK))
			Expect(ws.Model.ID).To(Equal("flux-schnell"))
			Expect(ws.Validation.Valid).To(BeFalse())

			Expect(sendJSON(http.MethodPut, "/api/workspace/params/prompt", aliceKey,
				map[string]any{"value": "a red fox"}, &ws)).To(Equal(http.StatusOK))
			Expect(ws.Validation.Valid).To(BeTrue())

			var f schema.FormResponse
			Expect(getJSON("/api/workspace/form", aliceKey, &f)).To(Equal(http.StatusOK))
			Expect(f.Fields).ToNot(BeEmpty())
			Expect(f.Fields[0].Name).To(Equal("prompt"))
			Expect(f.Fields[0].Value).To(Equal("a red fox"))

			Expect(sendJSON(http.MethodPut, "/api/workspace/params/nope", aliceKey,
				map[string]any{"value": 1}, nil)).To(Equal(http.StatusBadRequest))

			Expect(sendJSON(http.MethodPut, "/api/workspace/model", aliceKey,
				schema.SelectModelRequest{Model: "flux-1.1-pro"}, &ws)).To(Equal(http.StatusOK))
			Expect(ws.Model.ID).To(Equal("flux-1.1-pro"))
			Expect(ws.Params.Len()).To(BeZero())

			Expect(sendJSON(http.MethodPut, "/api/workspace/model", aliceKey,
				schema.SelectModelRequest{Model: "missing"}, nil)).To(Equal(http.StatusNotFound))
		})

		It("collects multipart values through the field component", func() {
			body := &bytes.Buffer{}
			w := multipart.NewWriter(body)
			Expect(w.WriteField("value", "3")).To(Succeed())
			Expect(w.Close()).To(Succeed())

			code, data := request(http.MethodPut, "/api/workspace/params/numOutputs", aliceKey, body, w.FormDataContentType())
			Expect(code).To(Equal(http.StatusOK), string(data))
			var ws schema.WorkspaceResponse
			Expect(json.Unmarshal(data, &ws)).To(Succeed())
			v, ok := ws.Params.Get("numOutputs")
			Expect(ok).To(BeTrue())
			Expect(v).To(BeNumerically("==", 3))
		})

		It("blocks an invalid generation without recording anything", func() {
			var errResp schema.ErrorResponse
			Expect(sendJSON(http.MethodPost, "/api/workspace/generate", aliceKey, nil, &errResp)).To(Equal(http.StatusBadRequest))
			Expect(errResp.Error.Errors).ToNot(BeEmpty())
			Expect(errResp.Error.Errors[0]).To(ContainSubstring("Prompt"))

			var msgs schema.MessagesResponse
			Expect(getJSON("/api/sessions/current/messages", aliceKey, &msgs)).To(Equal(http.StatusOK))
			Expect(msgs.Messages).To(BeEmpty())
		})

		It("generates and waits for the settled message", func() {
			Expect(sendJSON(http.MethodPut, "/api/workspace/params/prompt", aliceKey,
				map[string]any{"value": "a red fox"}, nil)).To(Equal(http.StatusOK))

			var gen schema.GenerateResponse
			Expect(sendJSON(http.MethodPost, "/api/workspace/generate", aliceKey,
				schema.GenerateRequest{Wait: true}, &gen)).To(Equal(http.StatusOK))
			Expect(gen.Status).To(Equal(chat.StatusSucceeded))
			Expect(gen.Message.Content.Assistant.Outputs).To(ConsistOf("https://replicate.delivery/flux-schnell/out-1.webp"))
			Expect(replic.lastInput()).To(HaveKeyWithValue("prompt", "a red fox"))

			var msgs schema.MessagesResponse
			Expect(getJSON("/api/sessions/"+gen.SessionID+"/messages", aliceKey, &msgs)).To(Equal(http.StatusOK))
			Expect(msgs.Messages).To(HaveLen(2))
			Expect(msgs.Messages[0].Role).To(Equal(chat.RoleUser))
			Expect(msgs.Messages[0].Content.User.Prompt).To(Equal("a red fox"))
			Expect(msgs.Messages[1].ID).To(Equal(gen.MessageID))

			var traces []map[string]any
			Eventually(func() []map[string]any {
				Expect(getJSON("/api/traces", aliceKey, &traces)).To(Equal(http.StatusOK))
				return traces
			}, 2*time.Second, 20*time.Millisecond).Should(HaveLen(1))
			Expect(getJSON("/api/traces", bobKey, &traces)).To(Equal(http.StatusOK))
			Expect(traces).To(BeEmpty())

			// tenants are isolated
			Expect(getJSON("/api/sessions/current/messages", bobKey, &msgs)).To(Equal(http.StatusOK))
			Expect(msgs.Messages).To(BeEmpty())
		})
	})

	Context("multipart generation", func() {
		generate := func(key string, fields map[string]string) (int, schema.GenerateResponse, []byte) {
			body := &bytes.Buffer{}
			w := multipart.NewWriter(body)
			for k, v := range fields {
				Expect(w.WriteField(k, v)).To(Succeed())
			}
			Expect(w.Close()).To(Succeed())
			code, data := request(http.MethodPost, "/api/generate", key, body, w.FormDataContentType())
			var resp schema.GenerateResponse
			if code < 300 {
				Expect(json.Unmarshal(data, &resp)).To(Succeed())
			}
			return code, resp, data
		}

		It("dispatches and settles in the background", func() {
			code, gen, data := generate(aliceKey, map[string]string{
				"model":        "flux-schnell",
				"prompt":       "a lighthouse",
				"aspect_ratio": "16:9",
				"num_outputs":  "2",
			})
			Expect(code).To(Equal(http.StatusAccepted), string(data))
			Expect(gen.Status).To(Equal(chat.StatusProcessing))

			m := waitSettled(aliceKey, gen.MessageID)
			Expect(m.Status()).To(Equal(chat.StatusSucceeded))
			Expect(replic.lastInput()).To(HaveKeyWithValue("aspect_ratio", "16:9"))
			Expect(replic.lastInput()).To(HaveKeyWithValue("num_outputs", BeNumerically("==", 2)))
		})

		It("settles a failed prediction with the service message", func() {
			code, gen, _ := generate(aliceKey, map[string]string{"model": "flux-schnell", "prompt": "fail"})
			Expect(code).To(Equal(http.StatusAccepted))
			m := waitSettled(aliceKey, gen.MessageID)
			Expect(m.Status()).To(Equal(chat.StatusFailed))
			Expect(m.Content.Assistant.Error).To(Equal("NSFW content detected"))

			var aa schema.AutoAttachResponse
			Expect(getJSON("/api/auto-attach", aliceKey, &aa)).To(Equal(http.StatusOK))
			Expect(aa.Available).To(BeFalse())
		})

		It("rejects unknown models and non multipart bodies", func() {
			code, _, _ := generate(aliceKey, map[string]string{"model": "nope", "prompt": "x"})
			Expect(code).To(Equal(http.StatusNotFound))

			code, _ = request(http.MethodPost, "/api/generate", aliceKey, strings.NewReader(`{}`), echo.MIMEApplicationJSON)
			Expect(code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("sessions", func() {
		It("creates, renames, selects and deletes sessions", func() {
			var sessions schema.SessionsResponse
			Expect(getJSON("/api/sessions", aliceKey, &sessions)).To(Equal(http.StatusOK))
			Expect(sessions.Sessions).To(HaveLen(1))
			first := sessions.CurrentSessionID

			var created chat.SessionSummary
			Expect(sendJSON(http.MethodPost, "/api/sessions", aliceKey,
				schema.SessionRequest{Name: "Portraits"}, &created)).To(Equal(http.StatusCreated))
			Expect(created.Name).To(Equal("Portraits"))
			Expect(created.Current).To(BeTrue())

			var renamed chat.SessionSummary
			Expect(sendJSON(http.MethodPut, "/api/sessions/"+created.ID, aliceKey,
				schema.SessionRequest{Name: "<b>Faces</b>"}, &renamed)).To(Equal(http.StatusOK))
			Expect(renamed.Name).To(Equal("Faces"))

			Expect(sendJSON(http.MethodPost, "/api/sessions/"+first+"/select", aliceKey, nil, nil)).To(Equal(http.StatusNoContent))
			Expect(getJSON("/api/sessions", aliceKey, &sessions)).To(Equal(http.StatusOK))
			Expect(sessions.CurrentSessionID).To(Equal(first))

			Expect(sendJSON(http.MethodDelete, "/api/sessions/"+created.ID, aliceKey, nil, nil)).To(Equal(http.StatusNoContent))
			Expect(sendJSON(http.MethodDelete, "/api/sessions/"+created.ID, aliceKey, nil, nil)).To(Equal(http.StatusNotFound))
			Expect(sendJSON(http.MethodPost, "/api/sessions/missing/select", aliceKey, nil, nil)).To(Equal(http.StatusNotFound))
		})

		It("deletes and clears messages", func() {
			Expect(sendJSON(http.MethodPut, "/api/workspace/params/prompt", aliceKey,
				map[string]any{"value": "a boat"}, nil)).To(Equal(http.StatusOK))
			var gen schema.GenerateResponse
			Expect(sendJSON(http.MethodPost, "/api/workspace/generate", aliceKey,
				schema.GenerateRequest{Wait: true}, &gen)).To(Equal(http.StatusOK))

			Expect(sendJSON(http.MethodDelete, "/api/sessions/current/messages/"+gen.UserMessageID, aliceKey, nil, nil)).
				To(Equal(http.StatusNoContent))
			var msgs schema.MessagesResponse
			Expect(getJSON("/api/sessions/current/messages", aliceKey, &msgs)).To(Equal(http.StatusOK))
			Expect(msgs.Messages).To(HaveLen(1))

			Expect(sendJSON(http.MethodDelete, "/api/sessions/current/messages", aliceKey, nil, nil)).To(Equal(http.StatusNoContent))
			Expect(getJSON("/api/sessions/current/messages", aliceKey, &msgs)).To(Equal(http.StatusOK))
			Expect(msgs.Messages).To(BeEmpty())
		})
	})

	Context("auto-attach", func() {
		It("offers the last image to image-input models until dismissed", func() {
			Expect(sendJSON(http.MethodPut, "/api/workspace/params/prompt", aliceKey,
				map[string]any{"value": "a castle"}, nil)).To(Equal(http.StatusOK))
			var gen schema.GenerateResponse
			Expect(sendJSON(http.MethodPost, "/api/workspace/generate", aliceKey,
				schema.GenerateRequest{Wait: true}, &gen)).To(Equal(http.StatusOK))

			var aa schema.AutoAttachResponse
			Expect(getJSON("/api/auto-attach", aliceKey, &aa)).To(Equal(http.StatusOK))
			// flux-schnell takes no image
			Expect(aa.Available).To(BeFalse())

			Expect(sendJSON(http.MethodPut, "/api/workspace/model", aliceKey,
				schema.SelectModelRequest{Model: "flux-kontext-pro"}, nil)).To(Equal(http.StatusOK))
			Expect(getJSON("/api/auto-attach", aliceKey, &aa)).To(Equal(http.StatusOK))
			Expect(aa.Available).To(BeTrue())
			Expect(aa.URL).To(Equal("https://replicate.delivery/flux-schnell/out-1.webp"))

			var sessions schema.SessionsResponse
			Expect(getJSON("/api/sessions", aliceKey, &sessions)).To(Equal(http.StatusOK))
			first := sessions.CurrentSessionID
			Expect(sendJSON(http.MethodPost, "/api/sessions", aliceKey,
				schema.SessionRequest{Name: "Empty"}, nil)).To(Equal(http.StatusCreated))
			Expect(getJSON("/api/auto-attach", aliceKey, &aa)).To(Equal(http.StatusOK))
			Expect(aa.Available).To(BeFalse())
			Expect(getJSON("/api/auto-attach?session="+first, aliceKey, &aa)).To(Equal(http.StatusOK))
			Expect(aa.Available).To(BeTrue())

			Expect(sendJSON(http.MethodDelete, "/api/auto-attach", aliceKey, nil, nil)).To(Equal(http.StatusNoContent))
			Expect(getJSON("/api/auto-attach", aliceKey, &aa)).To(Equal(http.StatusOK))
			Expect(aa.Available).To(BeFalse())
			Expect(aa.Dismissed).To(BeTrue())
		})
	})

	It("exposes Prometheus metrics", func() {
		Expect(sendJSON(http.MethodPut, "/api/workspace/params/prompt", aliceKey,
			map[string]any{"value": "a tree"}, nil)).To(Equal(http.StatusOK))
		Expect(sendJSON(http.MethodPost, "/api/workspace/generate", aliceKey,
			schema.GenerateRequest{Wait: true}, nil)).To(Equal(http.StatusOK))

		code, data := request(http.MethodGet, "/metrics", aliceKey, nil, "")
		Expect(code).To(Equal(http.StatusOK))
		Expect(string(data)).To(ContainSubstring("generation_total"))
		Expect(string(data)).To(ContainSubstring("api_call"))
	})
})
