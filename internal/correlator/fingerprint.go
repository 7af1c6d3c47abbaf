package correlator

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/opsignal/responder/internal/models"
)

// Fingerprint derives the correlation key for a signal: source, event type,
// and a normalized key extracted from the payload. Signals sharing a
// fingerprint within the dedup window belong to the same incident.
func Fingerprint(sig *models.Signal) string {
	parts := []string{string(sig.Source), strings.ToLower(sig.EventType)}
	if key := payloadKey(sig); key != "" {
		parts = append(parts, key)
	}
	return strings.Join(parts, ":")
}

// payloadKey extracts the most specific stable identifier the payload offers.
func payloadKey(sig *models.Signal) string {
	raw := sig.RawData
	if raw == nil {
		return ""
	}

	switch sig.Source {
	case models.SourceTestRunner:
		name, _ := raw["test_name"].(string)
		env, _ := raw["environment"].(string)
		return normalizeKey(name, env)
	case models.SourceCIPipeline:
		pipeline, _ := raw["pipeline"].(string)
		env, _ := raw["environment"].(string)
		return normalizeKey(pipeline, env)
	case models.SourceVersionControl:
		repo, _ := raw["repository"].(string)
		if pr, ok := raw["pull_request"].(map[string]any); ok {
			if num, ok := pr["number"].(float64); ok {
				return normalizeKey(repo, fmt.Sprintf("pr-%d", int(num)))
			}
		}
		if num, ok := raw["pr_number"].(float64); ok {
			return normalizeKey(repo, fmt.Sprintf("pr-%d", int(num)))
		}
		path, _ := raw["file_path"].(string)
		return normalizeKey(repo, path)
	case models.SourceAuditTrail:
		op, _ := raw["operation"].(string)
		user, _ := raw["user"].(string)
		return normalizeKey(op, user)
	}
	return ""
}

func normalizeKey(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// shardIndex maps a fingerprint onto one of n serial workers. Same
// fingerprint always lands on the same shard, which is what makes
// create-or-attach single-writer.
func shardIndex(fingerprint string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(fingerprint))
	return int(h.Sum32() % uint32(n))
}
