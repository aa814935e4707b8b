package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExampleYAML is the starter configuration written by init-config.
const ExampleYAML = `# wallarchive configuration
root: ./wallpapers
tiers: [4k, 2k, 1k]
workers: 4
generate_missing: true
revalidate: false
category_mirrors: true

manifest:
  backend: sqlite        # or postgres (DATABASE_URL)
  lease_ttl: 10m
  # redis_url comes from REDIS_URL when several hosts share a manifest

fetch:
  timeout: 30s
  http_concurrency: 16
  host_rps: 4
  host_burst: 4
  robots: "on"
  max_attempts: 4
  base_delay: 500ms
  max_delay: 30s

dedup:
  strategy: content      # identity, content or perceptual
  policy: skip           # keep or skip
  threshold: 5
  algorithm: phash
  digest: sha256

sources:
  enabled: [bing-daily]
  market: en-US
  n: 8

metrics:
  namespace: wallarchive
  job: wallarchive

log:
  level: info
  format: text
  output: stderr

profiles:
  default: {}
  backfill:
    sources:
      enabled: [bing-archive]
      years: 2
  popular:
    tiers: [4k]
    dedup:
      strategy: perceptual
    sources:
      enabled: [wallhaven, openverse, wikimedia, q360]
      n: 40
      query: landscape
`

// WriteExample writes ExampleYAML to path. An existing file is kept unless
// force is set.
func WriteExample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(ExampleYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
