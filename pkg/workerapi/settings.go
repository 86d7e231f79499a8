package workerapi

import "sync"

// SettingsCache holds the last value each running job published for its
// settings on the control bus. It is the small local metadata store the
// GET /jobs/settings endpoints read from; it is written only by the
// worker's Bus command subscriber, never by a PATCH on this API.
type SettingsCache struct {
	mu    sync.RWMutex
	byJob map[string]map[string]string
}

// NewSettingsCache returns an empty cache.
func NewSettingsCache() *SettingsCache {
	return &SettingsCache{byJob: make(map[string]map[string]string)}
}

// Observe records the latest value for (job, setting). Handlers on the
// Bus side are idempotent with respect to repeated identical settings,
// so re-observing the same value is harmless.
func (c *SettingsCache) Observe(job, setting, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byJob[job]
	if !ok {
		m = make(map[string]string)
		c.byJob[job] = m
	}
	m[setting] = value
}

// Settings returns a copy of every recorded setting for job.
func (c *SettingsCache) Settings(job string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.byJob[job]))
	for k, v := range c.byJob[job] {
		out[k] = v
	}
	return out
}

// Setting returns the last value for (job, setting); ok is false if the
// job has never published it.
func (c *SettingsCache) Setting(job, setting string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byJob[job][setting]
	return v, ok
}

// Forget drops every setting recorded for job, called when the job
// disconnects.
func (c *SettingsCache) Forget(job string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byJob, job)
}
