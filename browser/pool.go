// Package browser manages a bounded pool of headless Chromium sessions
// for the browser-drive tool capability. One session backs exactly one
// in-flight browser worker step; the pool exists so a run never spawns
// more concurrent browser processes than the operator has configured.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Instance is a single browser/context/page triple checked out of the pool.
type Instance struct {
	Browser playwright.Browser
	Context playwright.BrowserContext
	Page    playwright.Page
	ID      string
}

// PoolConfig mirrors the CHROME_* environment keys the original crawler
// read directly: headless mode, a pinned Chrome binary, and an optional
// upstream proxy.
type PoolConfig struct {
	MaxInstances   int
	Timeout        time.Duration
	Headless       bool
	InstancePath   string
	ProxyServer    string
	ProxyUsername  string
	ProxyPassword  string
	ViewportWidth  int
	ViewportHeight int
}

// ConfigFromEnv builds a PoolConfig from CHROME_HEADLESS, CHROME_INSTANCE_PATH,
// CHROME_PROXY_SERVER, CHROME_PROXY_USERNAME, CHROME_PROXY_PASSWORD, and
// BROWSER_POOL_SIZE, the same keys the medical-crawler original read via
// src/config.py.
func ConfigFromEnv(getenv func(string) string) PoolConfig {
	cfg := PoolConfig{
		MaxInstances:   3,
		Timeout:        30 * time.Second,
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 960,
	}
	if v := strings.TrimSpace(getenv("CHROME_HEADLESS")); v != "" {
		cfg.Headless = parseBool(v, true)
	}
	cfg.InstancePath = strings.TrimSpace(getenv("CHROME_INSTANCE_PATH"))
	cfg.ProxyServer = strings.TrimSpace(getenv("CHROME_PROXY_SERVER"))
	cfg.ProxyUsername = strings.TrimSpace(getenv("CHROME_PROXY_USERNAME"))
	cfg.ProxyPassword = strings.TrimSpace(getenv("CHROME_PROXY_PASSWORD"))
	if v := strings.TrimSpace(getenv("BROWSER_POOL_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxInstances = n
		}
	}
	return cfg
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return fallback
	}
}

// Pool manages a bounded set of live browser instances.
type Pool struct {
	config    PoolConfig
	instances chan *Instance
	mu        sync.Mutex
	closed    bool
	pw        *playwright.Playwright
	created   int
}

// NewPool installs and starts Playwright and returns an empty pool ready
// to lazily create instances up to config.MaxInstances.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.MaxInstances <= 0 {
		config.MaxInstances = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ViewportWidth <= 0 {
		config.ViewportWidth = 1280
	}
	if config.ViewportHeight <= 0 {
		config.ViewportHeight = 960
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("browser: start playwright: %w", err)
	}

	return &Pool{
		config:    config,
		instances: make(chan *Instance, config.MaxInstances),
		pw:        pw,
	}, nil
}

// Acquire returns an idle instance or creates a new one, blocking until
// either happens or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("browser: pool is closed")
		}
		select {
		case inst := <-p.instances:
			p.mu.Unlock()
			return inst, nil
		default:
		}
		if p.created < p.config.MaxInstances {
			p.created++
			p.mu.Unlock()
			inst, err := p.createInstance()
			if err != nil {
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
				return nil, err
			}
			return inst, nil
		}
		p.mu.Unlock()

		select {
		case inst := <-p.instances:
			return inst, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns inst to the pool, or closes it if the pool is full or shut down.
func (p *Pool) Release(inst *Instance) {
	if inst == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		inst.cleanup()
		p.created--
		return
	}
	select {
	case p.instances <- inst:
	default:
		inst.cleanup()
		p.created--
	}
}

// Close shuts down every live instance and stops Playwright. Safe to call once.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.instances)
	for inst := range p.instances {
		inst.cleanup()
	}
	p.created = 0
	if p.pw != nil {
		return p.pw.Stop()
	}
	return nil
}

func (p *Pool) createInstance() (*Instance, error) {
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(p.config.Headless),
		Timeout:  playwright.Float(float64(p.config.Timeout.Milliseconds())),
	}
	if p.config.InstancePath != "" {
		launchOpts.ExecutablePath = playwright.String(p.config.InstancePath)
	}
	if p.config.ProxyServer != "" {
		proxy := &playwright.Proxy{Server: p.config.ProxyServer}
		if p.config.ProxyUsername != "" {
			proxy.Username = playwright.String(p.config.ProxyUsername)
		}
		if p.config.ProxyPassword != "" {
			proxy.Password = playwright.String(p.config.ProxyPassword)
		}
		launchOpts.Proxy = proxy
	}

	b, err := p.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("browser: launch chromium: %w", err)
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  p.config.ViewportWidth,
			Height: p.config.ViewportHeight,
		},
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("browser: create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		b.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	page.SetDefaultTimeout(float64(p.config.Timeout.Milliseconds()))

	return &Instance{
		Browser: b,
		Context: bctx,
		Page:    page,
		ID:      fmt.Sprintf("browser-%d", p.created),
	}, nil
}

func (inst *Instance) cleanup() {
	if inst.Page != nil {
		inst.Page.Close()
	}
	if inst.Context != nil {
		inst.Context.Close()
	}
	if inst.Browser != nil {
		inst.Browser.Close()
	}
}
