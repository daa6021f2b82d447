package config

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/xdien/cipher/internal/domain"
)

// RedactionToken replaces any value recognized as secret-looking during
// descriptor export.
const RedactionToken = "***REDACTED***"

// secretKeyPattern matches env/header keys that conventionally carry
// credentials, case-insensitively.
var secretKeyPattern = regexp.MustCompile(`(?i)(key|token|secret|password|credential|authorization|auth)`)

// ExportDescriptor renders a descriptor as a YAML document with every
// recognized secret-looking env/header value replaced by RedactionToken.
// Re-importing the result never recovers the original secret value: R3
// only guarantees non-secret fields survive the round trip byte-for-byte.
func ExportDescriptor(d domain.ServerDescriptor) ([]byte, error) {
	entry := FromDescriptor(redactDescriptor(d))
	out, err := yaml.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("export descriptor %s: %w", d.Name, err)
	}
	return out, nil
}

// ImportDescriptor parses a YAML document produced by ExportDescriptor (or
// hand-authored in the same shape) back into a domain.ServerDescriptor.
func ImportDescriptor(doc []byte) (domain.ServerDescriptor, error) {
	var entry ServerDescriptorEntry
	if err := yaml.Unmarshal(doc, &entry); err != nil {
		return domain.ServerDescriptor{}, fmt.Errorf("import descriptor: %w", err)
	}
	return entry.ToDescriptor(), nil
}

func redactDescriptor(d domain.ServerDescriptor) domain.ServerDescriptor {
	out := d
	out.Env = redactMap(d.Env)
	out.Headers = redactMap(d.Headers)
	return out
}

func redactMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			out[k] = RedactionToken
		} else {
			out[k] = v
		}
	}
	return out
}
