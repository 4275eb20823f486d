package application

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/xlog"
)

// schema reloads are coalesced: editors often emit several events per save
const reloadDebounce = 250 * time.Millisecond

type fileHandler func(fileContent []byte, appConfig *config.ApplicationConfig) error

// configFileHandler watches the models directory. Files with a registered
// handler are dispatched to it, any other change reloads the schema registry.
type configFileHandler struct {
	handlers map[string]fileHandler

	watcher   *fsnotify.Watcher
	appConfig *config.ApplicationConfig
	loader    *config.ModelSchemaLoader

	mu          sync.Mutex
	reloadTimer *time.Timer
}

func newConfigFileHandler(appConfig *config.ApplicationConfig, loader *config.ModelSchemaLoader) (*configFileHandler, error) {
	c := &configFileHandler{
		handlers:  make(map[string]fileHandler),
		appConfig: appConfig,
		loader:    loader,
	}
	if err := c.Register(config.APIKeysFile, readApiKeysJson(append([]string(nil), appConfig.ApiKeys...)), true); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *configFileHandler) Register(filename string, handler fileHandler, runNow bool) error {
	if _, ok := c.handlers[filename]; ok {
		return fmt.Errorf("handler already registered for file %s", filename)
	}
	c.handlers[filename] = handler
	if runNow {
		c.callHandler(filename, handler)
	}
	return nil
}

func (c *configFileHandler) callHandler(filename string, handler fileHandler) {
	rootedFilePath := filepath.Join(c.appConfig.ModelsPath, filepath.Clean(filename))
	xlog.Debug("reading file for dynamic config update", "filename", rootedFilePath)
	fileContent, err := os.ReadFile(rootedFilePath)
	if err != nil && !os.IsNotExist(err) {
		xlog.Error("could not read file", "filename", rootedFilePath, "error", err)
	}
	if err = handler(fileContent, c.appConfig); err != nil {
		xlog.Error("failed to apply dynamic config update", "filename", rootedFilePath, "error", err)
	}
}

// scheduleReload (re)arms the debounce timer.
func (c *configFileHandler) scheduleReload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reloadTimer != nil {
		c.reloadTimer.Stop()
	}
	c.reloadTimer = time.AfterFunc(reloadDebounce, c.reloadSchemas)
}

func (c *configFileHandler) reloadSchemas() {
	if err := c.loader.Reload(c.appConfig.ModelsPath); err != nil {
		xlog.Error("cannot reload model schemas", "path", c.appConfig.ModelsPath, "error", err)
		return
	}
	xlog.Info("model schemas reloaded", "count", len(c.loader.GetAllModelSchemas()))
}

func (c *configFileHandler) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	c.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				name := filepath.Base(event.Name)
				if handler, ok := c.handlers[name]; ok {
					c.callHandler(name, handler)
					continue
				}
				xlog.Debug("model schema change detected", "file", name, "op", event.Op.String())
				c.scheduleReload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				xlog.Error("config watcher error received", "error", err)
			}
		}
	}()

	if err := w.Add(c.appConfig.ModelsPath); err != nil {
		return fmt.Errorf("unable to create a watcher on the models directory: %w", err)
	}
	return nil
}

func (c *configFileHandler) Stop() error {
	c.mu.Lock()
	if c.reloadTimer != nil {
		c.reloadTimer.Stop()
	}
	c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

// readApiKeysJson merges the keys of the file with the ones given at startup.
func readApiKeysJson(startupKeys []string) fileHandler {
	return func(fileContent []byte, appConfig *config.ApplicationConfig) error {
		keys := append([]string(nil), startupKeys...)
		if len(fileContent) > 0 {
			var fileKeys []string
			if err := json.Unmarshal(fileContent, &fileKeys); err != nil {
				return err
			}
			keys = append(keys, fileKeys...)
		}
		appConfig.SetApiKeys(keys)
		xlog.Debug("api keys updated", "startup", len(startupKeys), "total", len(keys))
		return nil
	}
}
