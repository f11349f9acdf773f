package experiment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/copyleftdev/gaeval/internal/errors"
)

// Section is the top-level member that holds the configuration payload.
const Section = "config"

var (
	ErrNotFound        = errors.New("configuration not found")
	ErrMalformed       = errors.New("malformed configuration document")
	ErrMissingSection  = errors.New(`configuration document has no "` + Section + `" member`)
	ErrSchemaViolation = errors.New("configuration schema violation")
)

// Format is the syntax of a configuration document.
type Format int

const (
	JSON Format = iota
	YAML
)

// FormatOf picks the document syntax from the file extension. Anything that
// is not .yaml or .yml is read as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSON
	}
}

var requiredMembers = []string{
	"pop_config", "qtd_gen", "qtd_runs", "generations_to_genocide", "elitism",
	"selection_method", "crossover_method", "crossover_chance", "mutation_chance",
	"constraint_penalty", "kp", "generation_gap",
}

var requiredPopMembers = []string{"dim", "pop_size", "pop_type"}

// Load reads the configuration document at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fail(ErrNotFound, "load", path, err)
	}
	cfg, err := decode(data, FormatOf(path))
	if err != nil {
		return Config{}, apperrors.Wrap(err, path).WithComponent("experiment").WithOperation("load")
	}
	return cfg, nil
}

// Decode reads a configuration document from r.
func Decode(r io.Reader, format Format) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fail(ErrNotFound, "decode", "", err)
	}
	cfg, err := decode(data, format)
	if err != nil {
		return Config{}, apperrors.Wrap(err, "").WithComponent("experiment").WithOperation("decode")
	}
	return cfg, nil
}

func decode(data []byte, format Format) (Config, error) {
	if format == YAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return Config{}, err
		}
		data = converted
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, kind(ErrMalformed, err)
	}

	payload, ok := doc[Section]
	if !ok || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return Config{}, ErrMissingSection
	}

	if err := checkMembers(payload); err != nil {
		return Config{}, kind(ErrSchemaViolation, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, kind(ErrSchemaViolation, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, kind(ErrSchemaViolation, err)
	}
	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both syntaxes share one
// decoding and validation path.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, kind(ErrMalformed, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, kind(ErrMalformed, err)
	}
	return out, nil
}

func checkMembers(payload json.RawMessage) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(payload, &members); err != nil {
		return fmt.Errorf("%s must be an object: %w", Section, err)
	}
	var missing []string
	for _, m := range requiredMembers {
		if _, ok := members[m]; !ok {
			missing = append(missing, m)
		}
	}
	if pop, ok := members["pop_config"]; ok {
		var popMembers map[string]json.RawMessage
		if err := json.Unmarshal(pop, &popMembers); err != nil {
			return fmt.Errorf("pop_config must be an object: %w", err)
		}
		for _, m := range requiredPopMembers {
			if _, ok := popMembers[m]; !ok {
				missing = append(missing, "pop_config."+m)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing members: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Write encodes cfg as a JSON document that Load reads back unchanged.
func Write(w io.Writer, cfg Config) error {
	return encode(w, cfg, JSON)
}

// Save writes cfg to path, in YAML when the extension asks for it.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := encode(&buf, cfg, FormatOf(path)); err != nil {
		return apperrors.Wrap(err, path).WithComponent("experiment").WithOperation("save")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return apperrors.Wrap(err, path).WithComponent("experiment").WithOperation("save")
	}
	return nil
}

func encode(w io.Writer, cfg Config, format Format) error {
	if err := cfg.Validate(); err != nil {
		return kind(ErrSchemaViolation, err)
	}
	doc := map[string]Config{Section: cfg}
	if format == YAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func kind(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}

func fail(sentinel error, op, path string, cause error) error {
	return apperrors.Wrap(kind(sentinel, cause), path).WithComponent("experiment").WithOperation(op)
}
