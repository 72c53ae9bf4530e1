// Package servicetest is a deterministic test harness for dataflow
// services. It runs a service's block graph in-process with a signal
// router that records every processed batch, a virtual clock that only
// moves when the test advances it, and an in-process pub/sub transport
// for injecting signals and observing what the service publishes.
package servicetest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/nioinnovation/service-tests/config"
	"github.com/nioinnovation/service-tests/core"
	"github.com/nioinnovation/service-tests/pubsub"
)

// DefaultDrainTimeout bounds how long Teardown waits for in-flight
// dispatches before giving up and reporting them.
const DefaultDrainTimeout = 5 * time.Second

// HarnessConfig holds test harness configuration
type HarnessConfig struct {
	// ServiceName identifies the service config to load from EtcDir.
	ServiceName string

	// EtcDir is the root holding blocks/ and services/ collections.
	EtcDir string

	// AutoStart starts the service's blocks at the end of Setup.
	AutoStart bool

	// SubscriberTopics are the topics the service subscribes to. The
	// harness opens a publisher per topic so tests can inject signals.
	SubscriberTopics []string

	// PublisherTopics are the topics the service publishes to. The
	// harness captures and schema-validates everything published there.
	PublisherTopics []string

	// EnvVars are substituted for [[VAR]] placeholders in configs and
	// topics.
	EnvVars map[string]any

	// OverrideBlockConfigs overlays per-block config properties on top
	// of the loaded block configs, keyed by block name.
	OverrideBlockConfigs map[string]map[string]any

	// MockBlocks swaps a named block's implementation for a processing
	// function, keyed by block name. The mock is instrumented and
	// routed like the real block.
	MockBlocks map[string]core.ProcessFunc

	// PersistedState seeds a block's persisted state, keyed by block
	// name.
	PersistedState map[string]any

	// Factories maps block type names to constructors. Every
	// non-mocked block config's "type" must have an entry.
	Factories map[string]BlockFactory

	// BrokerPoolSize caps concurrent pub/sub deliveries, zero for the
	// broker default.
	BrokerPoolSize int

	Logger zerolog.Logger
}

// Harness wires a service's blocks, router, scheduler and pub/sub
// together for one test. Create one per test, call Setup, exercise the
// service, then Teardown.
type Harness struct {
	cfg    HarnessConfig
	logger zerolog.Logger

	scheduler *VirtualScheduler
	registry  *Registry
	router    *SignalRouter
	broker    *pubsub.Broker
	validator *TopicValidator
	graph     core.ExecutionGraph

	injectors   map[string]*pubsub.Publisher
	subscribers []*pubsub.Subscriber

	pubMu          sync.Mutex
	published      map[string][]core.Signal
	publishedTotal int
	publishedEvent *completionEvent
}

// NewHarness creates an unconfigured harness with its pub/sub broker.
// Register any broker-backed block factories, then call Setup.
func NewHarness(cfg HarnessConfig) (*Harness, error) {
	broker, err := pubsub.NewBroker(pubsub.BrokerConfig{
		PoolSize: cfg.BrokerPoolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	h := &Harness{
		cfg:            cfg,
		logger:         cfg.Logger,
		broker:         broker,
		injectors:      make(map[string]*pubsub.Publisher),
		published:      make(map[string][]core.Signal),
		publishedEvent: newCompletionEvent(),
	}
	if h.cfg.Factories == nil {
		h.cfg.Factories = make(map[string]BlockFactory)
	}
	return h, nil
}

// Broker returns the harness's pub/sub broker, available from
// construction so factories can bind to it before Setup.
func (h *Harness) Broker() *pubsub.Broker {
	return h.broker
}

// RegisterFactory registers a block type constructor. Factories needing
// a harness service, such as the broker, are registered here between
// NewHarness and Setup.
func (h *Harness) RegisterFactory(typeName string, factory BlockFactory) {
	h.cfg.Factories[typeName] = factory
}

// Setup loads the service and block configs, instantiates and configures
// the blocks, wires the router and pub/sub, and optionally starts the
// service.
func (h *Harness) Setup() error {
	h.scheduler = NewVirtualScheduler()
	h.registry = NewRegistry(RegistryConfig{Logger: h.logger})
	h.router = NewSignalRouter(RouterConfig{Logger: h.logger})

	validator, err := NewTopicValidator(TopicValidatorConfig{
		EtcDir:  h.cfg.EtcDir,
		EnvVars: h.cfg.EnvVars,
		Logger:  h.logger,
	})
	if err != nil {
		return err
	}
	h.validator = validator

	serviceCfg, blockConfigs, err := h.loadConfigs()
	if err != nil {
		return err
	}

	graph, err := parseExecution(serviceCfg["execution"])
	if err != nil {
		return fmt.Errorf("service %q has an invalid execution graph: %w", h.cfg.ServiceName, err)
	}
	h.graph = graph

	mappings := parseMappings(serviceCfg["mappings"])
	for _, blockName := range graph.BlockNames() {
		block, blockCfg, err := h.buildBlock(blockName, mappings, blockConfigs)
		if err != nil {
			return err
		}
		if err := block.Configure(core.BlockContext{
			Notifier:  h.router,
			Config:    blockCfg,
			Scheduler: h.scheduler,
			Persisted: h.cfg.PersistedState[blockName],
			Logger:    h.logger.With().Str("block", blockName).Logger(),
		}); err != nil {
			return fmt.Errorf("failed to configure block %q: %w", blockName, err)
		}
		if _, err := h.registry.Add(block); err != nil {
			return err
		}
	}

	if err := h.router.Configure(graph, h.registry); err != nil {
		return err
	}

	if err := h.openTopics(); err != nil {
		return err
	}

	if h.cfg.AutoStart {
		return h.Start()
	}
	return nil
}

// Start starts every block in execution order. Setup calls it when
// AutoStart is set.
func (h *Harness) Start() error {
	return h.registry.StartAll()
}

// NotifySignals emits a batch from the named block on outputID, exactly
// as if the block's own code had emitted it. An empty outputID means the
// default terminal.
func (h *Harness) NotifySignals(blockName string, signals []core.Signal, outputID string) error {
	block, ok := h.registry.Resolve(blockName)
	if !ok {
		return fmt.Errorf("no block named %q in the service", blockName)
	}
	if outputID == "" {
		outputID = core.DefaultTerminal
	}
	return h.router.NotifySignals(block, signals, outputID)
}

// PublishSignals injects a batch on one of the service's subscriber
// topics. The batch is schema-validated like any published batch.
func (h *Harness) PublishSignals(topic string, signals []core.Signal) error {
	resolved := config.ReplaceEnvVarsInString(topic, h.cfg.EnvVars)
	injector, ok := h.injectors[resolved]
	if !ok {
		return fmt.Errorf("topic %q is not a subscriber topic of the service", resolved)
	}
	h.validator.Validate(resolved, signals)
	return injector.Send(signals)
}

// WaitForProcessed blocks until the named block has processed at least
// count signals, on inputID when non-empty, or until timeout. A count of
// zero waits for the block's next processed batch. Returns false on
// timeout.
func (h *Harness) WaitForProcessed(blockName string, count int, timeout time.Duration, inputID string) bool {
	block, ok := h.registry.Resolve(blockName)
	if !ok {
		return false
	}
	return h.registry.Ledger().WaitForProcessed(block.ID(), count, timeout, inputID)
}

// WaitForPublished blocks until the service has published at least count
// signals across all captured topics, or until timeout. A count of zero
// waits for the next published batch. Returns false on timeout.
func (h *Harness) WaitForPublished(count int, timeout time.Duration) bool {
	if count <= 0 {
		return h.publishedEvent.Wait(timeout)
	}

	deadline := time.Now().Add(timeout)
	for {
		ch := h.publishedEvent.channel()
		if h.publishedCount() >= count {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			return h.publishedCount() >= count
		}
	}
}

// ProcessedSignals returns every signal the named block has processed.
func (h *Harness) ProcessedSignals(blockName string) []core.Signal {
	block, ok := h.registry.Resolve(blockName)
	if !ok {
		return nil
	}
	return h.registry.Ledger().Signals(block.ID())
}

// ProcessedSignalsForInput returns the signals the named block has
// processed on one input.
func (h *Harness) ProcessedSignalsForInput(blockName, inputID string) []core.Signal {
	block, ok := h.registry.Resolve(blockName)
	if !ok {
		return nil
	}
	return h.registry.Ledger().SignalsForInput(block.ID(), inputID)
}

// PublishedSignals returns every signal captured on topic so far.
func (h *Harness) PublishedSignals(topic string) []core.Signal {
	resolved := config.ReplaceEnvVarsInString(topic, h.cfg.EnvVars)
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return append([]core.Signal(nil), h.published[resolved]...)
}

// Block returns the named block's instrumented wrapper.
func (h *Harness) Block(blockName string) (*InstrumentedBlock, bool) {
	return h.registry.Resolve(blockName)
}

// CommandBlock invokes a named command on a block that supports
// commands.
func (h *Harness) CommandBlock(blockName, command string, args map[string]any) error {
	block, ok := h.registry.Resolve(blockName)
	if !ok {
		return fmt.Errorf("no block named %q in the service", blockName)
	}
	commander, ok := block.Inner().(core.Commander)
	if !ok {
		return fmt.Errorf("block %q does not accept commands", blockName)
	}
	return commander.Command(command, args)
}

// Scheduler returns the harness's virtual scheduler.
func (h *Harness) Scheduler() *VirtualScheduler {
	return h.scheduler
}

// JumpAhead advances the virtual clock by d, firing everything that
// comes due.
func (h *Harness) JumpAhead(d time.Duration) error {
	return h.scheduler.Advance(d)
}

// Router returns the harness's signal router.
func (h *Harness) Router() *SignalRouter {
	return h.router
}

// AssertNumSignalsProcessed fails the test unless the named block has
// processed exactly want signals.
func (h *Harness) AssertNumSignalsProcessed(t testing.TB, blockName string, want int) {
	t.Helper()
	got := len(h.ProcessedSignals(blockName))
	if got != want {
		t.Errorf("block %q processed %d signals, want %d", blockName, got, want)
	}
}

// AssertNumSignalsPublished fails the test unless exactly want signals
// have been published across all captured topics.
func (h *Harness) AssertNumSignalsPublished(t testing.TB, want int) {
	t.Helper()
	got := h.publishedCount()
	if got != want {
		t.Errorf("service published %d signals, want %d", got, want)
	}
}

// AssertSignalPublished fails the test unless a signal equal to want was
// published on topic.
func (h *Harness) AssertSignalPublished(t testing.TB, topic string, want core.Signal) {
	t.Helper()
	captured := h.PublishedSignals(topic)
	for _, signal := range captured {
		if cmp.Equal(signal.ToMap(), want.ToMap()) {
			return
		}
	}
	if len(captured) == 0 {
		t.Errorf("no signals published on topic %q", topic)
		return
	}
	t.Errorf("signal not published on topic %q; closest diff (-want +got):\n%s",
		topic, cmp.Diff(want.ToMap(), captured[len(captured)-1].ToMap()))
}

// Teardown drains the router, stops the service and tears the wiring
// down. It returns an aggregate of everything that went wrong during the
// test that no call surfaced directly: block processing errors and
// schema violations on published topics.
func (h *Harness) Teardown() error {
	var errs *multierror.Error

	if h.router != nil {
		if !h.router.Drain(DefaultDrainTimeout) {
			errs = multierror.Append(errs, fmt.Errorf("dispatches still in flight after %s", DefaultDrainTimeout))
		}
	}
	if h.registry != nil {
		if err := h.registry.StopAll(); err != nil {
			errs = multierror.Append(errs, err)
		}
		h.registry.Ledger().Clear()
	}
	for _, subscriber := range h.subscribers {
		if err := subscriber.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, injector := range h.injectors {
		if err := injector.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if h.broker != nil {
		h.broker.Close()
	}
	if h.router != nil {
		h.router.Shutdown()
		if err := h.router.Err(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if h.scheduler != nil {
		h.scheduler.Reset()
	}
	if h.validator != nil {
		if err := h.validator.Err(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// loadConfigs loads the service config and the block config collection
// from the etc directory, with env vars substituted into the service.
func (h *Harness) loadConfigs() (map[string]any, config.Collection, error) {
	services, err := config.LoadCollection(h.cfg.EtcDir, "services")
	if err != nil {
		return nil, nil, err
	}
	serviceCfg, err := config.FindResource(h.cfg.ServiceName, services)
	if err != nil {
		return nil, nil, fmt.Errorf("service %q not found: %w", h.cfg.ServiceName, err)
	}
	serviceCfg = config.ReplaceEnvVars(serviceCfg, h.cfg.EnvVars)

	blockConfigs, err := config.LoadCollection(h.cfg.EtcDir, "blocks")
	if err != nil {
		return nil, nil, err
	}
	return serviceCfg, blockConfigs, nil
}

// buildBlock resolves one execution-graph entry into an instantiated
// block and its fully resolved config.
func (h *Harness) buildBlock(blockName string, mappings map[string]string, blockConfigs config.Collection) (core.Block, map[string]any, error) {
	configName := blockName
	if mapped, ok := mappings[blockName]; ok {
		configName = mapped
	}

	blockCfg, err := config.FindResource(configName, blockConfigs)
	if err != nil {
		// Mocks can run without a config file on disk.
		if _, mocked := h.cfg.MockBlocks[blockName]; !mocked {
			return nil, nil, fmt.Errorf("no config for block %q: %w", blockName, err)
		}
		blockCfg = map[string]any{"name": blockName}
	}

	blockCfg = config.MergeOverrides(blockCfg, h.cfg.OverrideBlockConfigs[blockName])
	blockCfg = config.ReplaceEnvVars(blockCfg, h.cfg.EnvVars)
	blockCfg["name"] = blockName
	if id, ok := blockCfg["id"].(string); !ok || id == "" {
		blockCfg["id"] = uuid.NewString()
	}

	if process, ok := h.cfg.MockBlocks[blockName]; ok {
		return core.NewBlockFunc(blockName, process), blockCfg, nil
	}

	typeName, ok := blockCfg["type"].(string)
	if !ok || typeName == "" {
		return nil, nil, fmt.Errorf("block %q config has no type", blockName)
	}
	factory, ok := h.cfg.Factories[typeName]
	if !ok {
		return nil, nil, fmt.Errorf("no factory registered for block type %q", typeName)
	}
	return factory(), blockCfg, nil
}

// openTopics opens an injecting publisher per subscriber topic and a
// capturing subscriber per publisher topic.
func (h *Harness) openTopics() error {
	for _, topic := range h.cfg.SubscriberTopics {
		resolved := config.ReplaceEnvVarsInString(topic, h.cfg.EnvVars)
		injector := pubsub.NewPublisher(h.broker, resolved)
		if err := injector.Open(); err != nil {
			return err
		}
		h.injectors[resolved] = injector
	}
	for _, topic := range h.cfg.PublisherTopics {
		resolved := config.ReplaceEnvVarsInString(topic, h.cfg.EnvVars)
		subscriber := pubsub.NewSubscriber(h.broker, resolved, h.capturePublished)
		if err := subscriber.Open(); err != nil {
			return err
		}
		h.subscribers = append(h.subscribers, subscriber)
	}
	return nil
}

// capturePublished records a batch the service published and wakes
// WaitForPublished waiters. Runs on the broker's delivery pool.
func (h *Harness) capturePublished(topic string, signals []core.Signal) {
	h.validator.Validate(topic, signals)
	h.pubMu.Lock()
	h.published[topic] = append(h.published[topic], signals...)
	h.publishedTotal += len(signals)
	h.pubMu.Unlock()
	h.publishedEvent.Set()
}

func (h *Harness) publishedCount() int {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return h.publishedTotal
}

// parseExecution converts a service config's execution list into an
// execution graph. Each entry names a block and its receivers; receivers
// are either a map of output id to receiver list, or a bare list meaning
// the default output. A receiver is a block name string or a map with
// "name" and optional "input".
func parseExecution(raw any) (core.ExecutionGraph, error) {
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("execution must be a list, got %T", raw)
	}

	builder := core.NewGraphBuilder()
	type edge struct {
		from, output, to, input string
	}
	var edges []edge

	for _, rawEntry := range entries {
		entry, ok := rawEntry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("execution entry must be a map, got %T", rawEntry)
		}
		name, _ := entry["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("execution entry has no block name")
		}
		builder.AddBlock(name)

		switch receivers := entry["receivers"].(type) {
		case nil:
		case []any:
			for _, rawReceiver := range receivers {
				to, input, err := parseReceiver(rawReceiver)
				if err != nil {
					return nil, fmt.Errorf("block %q: %w", name, err)
				}
				edges = append(edges, edge{name, core.DefaultTerminal, to, input})
			}
		case map[string]any:
			for output, rawList := range receivers {
				list, ok := rawList.([]any)
				if !ok {
					return nil, fmt.Errorf("block %q output %q: receivers must be a list, got %T", name, output, rawList)
				}
				for _, rawReceiver := range list {
					to, input, err := parseReceiver(rawReceiver)
					if err != nil {
						return nil, fmt.Errorf("block %q: %w", name, err)
					}
					edges = append(edges, edge{name, output, to, input})
				}
			}
		default:
			return nil, fmt.Errorf("block %q: receivers must be a list or map, got %T", name, entry["receivers"])
		}
	}

	for _, e := range edges {
		builder.Connect(e.from, e.output, e.to, e.input)
	}
	return builder.Build()
}

// parseReceiver accepts either a bare block name or a map carrying
// "name" and optionally "input".
func parseReceiver(raw any) (name, input string, err error) {
	switch receiver := raw.(type) {
	case string:
		return receiver, core.DefaultTerminal, nil
	case map[string]any:
		name, _ := receiver["name"].(string)
		if name == "" {
			return "", "", fmt.Errorf("receiver map has no name")
		}
		input, _ := receiver["input"].(string)
		if input == "" {
			input = core.DefaultTerminal
		}
		return name, input, nil
	default:
		return "", "", fmt.Errorf("receiver must be a string or map, got %T", raw)
	}
}

// parseMappings accepts the service config's block mappings either as a
// name-to-config map or as a list of {name, mapping} entries.
func parseMappings(raw any) map[string]string {
	mappings := make(map[string]string)
	switch value := raw.(type) {
	case map[string]any:
		for name, target := range value {
			if target, ok := target.(string); ok && target != "" {
				mappings[name] = target
			}
		}
	case []any:
		for _, rawEntry := range value {
			entry, ok := rawEntry.(map[string]any)
			if !ok {
				continue
			}
			name, _ := entry["name"].(string)
			target, _ := entry["mapping"].(string)
			if name != "" && target != "" {
				mappings[name] = target
			}
		}
	}
	return mappings
}
