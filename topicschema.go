package servicetest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nioinnovation/service-tests/config"
	"github.com/nioinnovation/service-tests/core"
)

// TopicSchemaFile is the file naming the JSON schema each pub/sub topic
// must satisfy.
const TopicSchemaFile = "topic_schema.json"

// TopicValidator validates published and injected signals against
// per-topic JSON schemas. Violations never fail the publishing call
// itself; they accumulate and are surfaced at harness teardown.
type TopicValidator struct {
	schemas map[string]*jsonschema.Schema
	logger  zerolog.Logger

	mu         sync.Mutex
	violations map[string]string
}

// TopicValidatorConfig holds topic validator configuration
type TopicValidatorConfig struct {
	// EtcDir is the directory the schema file is searched from: the
	// directory itself, its tests/ subdirectory, then its parent.
	EtcDir string

	// EnvVars are substituted into topic keys before matching.
	EnvVars map[string]any

	Logger zerolog.Logger
}

// NewTopicValidator loads and compiles the topic schema file. A missing
// file is not an error: validation is simply disabled and a hint is
// logged, matching how an unconfigured schema behaves.
func NewTopicValidator(cfg TopicValidatorConfig) (*TopicValidator, error) {
	v := &TopicValidator{
		schemas:    make(map[string]*jsonschema.Schema),
		logger:     cfg.Logger,
		violations: make(map[string]string),
	}

	path := findTopicSchema(cfg.EtcDir)
	if path == "" {
		v.logger.Debug().Str("dir", cfg.EtcDir).
			Msg("no topic schema file found, topic validation disabled")
		return v, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topic schema file %q: %w", path, err)
	}
	topicSchemas := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &topicSchemas); err != nil {
		return nil, fmt.Errorf("failed to parse topic schema file %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	index := 0
	for topic, schemaJSON := range topicSchemas {
		// Anchor each compiled schema in the schema file's directory so
		// relative $ref targets resolve against sibling files.
		index++
		id := filepath.ToSlash(filepath.Join(dir, fmt.Sprintf("topic_%d.schema.json", index)))
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(id, bytes.NewReader(schemaJSON)); err != nil {
			return nil, fmt.Errorf("failed to add schema for topic %q: %w", topic, err)
		}
		schema, err := compiler.Compile(id)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for topic %q: %w", topic, err)
		}
		resolved := config.ReplaceEnvVarsInString(topic, cfg.EnvVars)
		v.schemas[resolved] = schema
	}
	return v, nil
}

// Validate checks each signal against the topic's schema. Topics without
// a schema pass. Violations are recorded per topic and logged.
func (v *TopicValidator) Validate(topic string, signals []core.Signal) {
	schema, ok := v.schemas[topic]
	if !ok {
		return
	}
	for _, signal := range signals {
		if err := schema.Validate(jsonRoundTrip(signal.ToMap())); err != nil {
			v.logger.Warn().Str("topic", topic).Err(err).
				Msg("topic received an invalid signal")
			v.mu.Lock()
			v.violations[topic] = err.Error()
			v.mu.Unlock()
		}
	}
}

// Violations returns the recorded violations by topic.
func (v *TopicValidator) Violations() map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]string, len(v.violations))
	for topic, message := range v.violations {
		out[topic] = message
	}
	return out
}

// Err aggregates the recorded violations, nil when every signal was
// valid.
func (v *TopicValidator) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var errs *multierror.Error
	for topic, message := range v.violations {
		errs = multierror.Append(errs, fmt.Errorf("topic %q received an invalid signal: %s", topic, message))
	}
	return errs.ErrorOrNil()
}

// findTopicSchema returns the first topic schema file found in the etc
// directory, its tests/ subdirectory, or its parent.
func findTopicSchema(etcDir string) string {
	if etcDir == "" {
		return ""
	}
	candidates := []string{
		filepath.Join(etcDir, TopicSchemaFile),
		filepath.Join(etcDir, "tests", TopicSchemaFile),
		filepath.Join(etcDir, "..", TopicSchemaFile),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// jsonRoundTrip normalizes a value into the shapes json.Unmarshal
// produces, which is what the schema validator expects.
func jsonRoundTrip(value map[string]any) any {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return value
	}
	return normalized
}
