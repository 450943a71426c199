// Package profiles names the resilience tiers services run under and binds
// each known backend to one. A profile couples the admission bound with the
// retry behavior so both are tuned together, never separately per call site.
package profiles

import (
	"fmt"
	"time"

	"carecore/internal/bulkhead"
	"carecore/internal/retry"
)

// Name identifies a resilience tier.
type Name string

const (
	// Critical is for patient-facing and fiscally binding work: generous
	// concurrency and persistent retries.
	Critical Name = "critical"
	// Normal is the default tier for lookups and supporting calls.
	Normal Name = "normal"
	// Background is for bulk and best-effort work that should yield under
	// load rather than compete with the other tiers.
	Background Name = "background"
)

// Profile couples admission and retry settings for one tier.
type Profile struct {
	Name     Name
	Bulkhead bulkhead.Config
	Retry    retry.Policy
}

var byName = map[Name]Profile{
	Critical: {
		Name: Critical,
		Bulkhead: bulkhead.Config{
			MaxConcurrency: 8,
			QueueCapacity:  32,
			WaitTimeout:    10 * time.Second,
		},
		Retry: retry.Policy{
			MaxAttempts: 5,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			JitterMax:   250 * time.Millisecond,
		},
	},
	Normal: {
		Name: Normal,
		Bulkhead: bulkhead.Config{
			MaxConcurrency: 4,
			QueueCapacity:  16,
			WaitTimeout:    5 * time.Second,
		},
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    15 * time.Second,
			JitterMax:   500 * time.Millisecond,
		},
	},
	Background: {
		Name: Background,
		Bulkhead: bulkhead.Config{
			MaxConcurrency: 2,
			QueueCapacity:  8,
			WaitTimeout:    2 * time.Second,
		},
		Retry: retry.Policy{
			MaxAttempts: 2,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			JitterMax:   time.Second,
		},
	},
}

// serviceBindings maps each backend service to its tier. Unknown services
// fall back to Normal via ForService.
var serviceBindings = map[string]Name{
	"document-analysis": Critical,
	"sii-invoicing":     Critical,
	"registry-lookup":   Normal,
	"storage":           Background,
}

// Get returns the profile for a tier name.
func Get(name Name) (Profile, error) {
	p, ok := byName[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// ForService returns the profile bound to service, defaulting to Normal for
// services without an explicit binding.
func ForService(service string) Profile {
	name, ok := serviceBindings[service]
	if !ok {
		name = Normal
	}
	return byName[name]
}

// Services lists the services with explicit bindings.
func Services() []string {
	out := make([]string, 0, len(serviceBindings))
	for s := range serviceBindings {
		out = append(out, s)
	}
	return out
}
