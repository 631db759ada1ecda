package stubservice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/inkseal/inkseal/internal/docservice"
)

// DefaultTTL is the signing window applied to seeded instances that do not
// set one.
const DefaultTTL = 24 * time.Hour

// Seed is the document accepted by the stub server's --seed flag.
type Seed struct {
	Instances []SeedInstance `yaml:"instances"`
}

// SeedInstance describes one signing instance to preload into the store.
// SignableData carries the payload as arbitrary YAML and is re-encoded as
// JSON when the instance is served.
type SeedInstance struct {
	InstanceID     string   `yaml:"instance_id"`
	SignatureField string   `yaml:"signature_field"`
	SignableData   any      `yaml:"signable_data"`
	TTL            Duration `yaml:"ttl"`
	Instructions   string   `yaml:"instructions"`
}

// Duration accepts Go duration syntax ("2h", "45m") in seed files.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// ParseSeed decodes and validates a seed document
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, inst := range seed.Instances {
		if inst.InstanceID == "" {
			return nil, fmt.Errorf("seed instance %d: instance_id is required", i)
		}
		if inst.SignatureField == "" {
			return nil, fmt.Errorf("seed instance %d: signature_field is required", i)
		}
		if inst.SignableData == nil {
			return nil, fmt.Errorf("seed instance %d: signable_data is required", i)
		}
	}

	return &seed, nil
}

// Tasks converts the seed into signing instances with expiry windows
// anchored at now.
func (s *Seed) Tasks(now time.Time) ([]*docservice.SignableData, error) {
	tasks := make([]*docservice.SignableData, 0, len(s.Instances))

	for i, inst := range s.Instances {
		payload, err := json.Marshal(inst.SignableData)
		if err != nil {
			return nil, fmt.Errorf("seed instance %d: signable_data is not JSON-encodable: %w", i, err)
		}

		ttl := time.Duration(inst.TTL)
		if ttl <= 0 {
			ttl = DefaultTTL
		}

		tasks = append(tasks, &docservice.SignableData{
			InstanceID:     inst.InstanceID,
			SignatureField: inst.SignatureField,
			SignableData:   payload,
			ExpiresAt:      now.Add(ttl).UTC(),
			Instructions:   inst.Instructions,
		})
	}

	return tasks, nil
}

// SampleTask builds a single generated signing instance so the server is
// usable without a seed file. The caller is expected to log the generated
// instance ID.
func SampleTask(now time.Time) *docservice.SignableData {
	return &docservice.SignableData{
		InstanceID:     uuid.New().String(),
		SignatureField: "customer_signature",
		SignableData:   json.RawMessage(`{"document":"Sample Agreement","version":1,"total":{"amount":"150.00","currency":"USD"}}`),
		ExpiresAt:      now.Add(DefaultTTL).UTC(),
		Instructions:   "Review the sample agreement and sign where indicated.",
	}
}
