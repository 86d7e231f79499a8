// Package config holds the cluster-facing config.ini validation used
// by PATCH /api/configs/<filename>, plus the process-bootstrap Settings
// struct the daemon binaries populate from persistent flags.
package config
