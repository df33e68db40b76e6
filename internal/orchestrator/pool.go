package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/ligustah/farmrun/internal/farm"
)

// VerifyPool checks that pool selects devices with exactly one static
// "ARN IN [...]" rule and returns the selected device references.
// Curated or attribute based pools can change between runs, so they are
// rejected.
func VerifyPool(pool *farm.DevicePool) ([]string, error) {
	if pool == nil {
		return nil, &farm.ConfigurationError{Reason: "device pool is missing"}
	}
	if len(pool.Rules) != 1 {
		return nil, &farm.ConfigurationError{
			Reason: fmt.Sprintf("device pool %s has %d rules, want a single static device rule", pool.Ref, len(pool.Rules)),
		}
	}

	rule := pool.Rules[0]
	if rule.Attribute != farm.AttributeARN || rule.Operator != farm.OperatorIn {
		return nil, &farm.ConfigurationError{
			Reason: fmt.Sprintf("device pool %s selects devices by %s %s, want %s %s",
				pool.Ref, rule.Attribute, rule.Operator, farm.AttributeARN, farm.OperatorIn),
		}
	}

	var devices []string
	if err := json.Unmarshal([]byte(rule.Value), &devices); err != nil {
		return nil, &farm.ConfigurationError{
			Reason: fmt.Sprintf("device pool %s has an unreadable device list", pool.Ref),
			Err:    err,
		}
	}
	if len(devices) == 0 {
		return nil, &farm.ConfigurationError{
			Reason: fmt.Sprintf("device pool %s selects no devices", pool.Ref),
		}
	}
	return devices, nil
}
