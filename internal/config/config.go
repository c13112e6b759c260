// Package config loads the function configuration.
//
// Priority (highest to lowest):
//  1. Environment variables (PROJECT_ID, FIRESTORE_COLLECTION, ...)
//  2. config.yaml in the working directory
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Dispatch modes.
const (
	DispatchWorkflow  = "workflow"
	DispatchInProcess = "inprocess"
)

// Config holds all function configuration.
type Config struct {
	GCP      GCPConfig
	Dispatch DispatchConfig
	ERP      ERPConfig
	Log      LogConfig
}

// GCPConfig names the project resources the functions use.
type GCPConfig struct {
	ProjectID            string
	ExecutionsCollection string
	ReferenceCollection  string
	ConnectionCollection string
	HeaderRowsCollection string
	ItemRowsCollection   string
	TaxRowsCollection    string
	ComparisonBucket     string
	WorkflowID           string
	WorkflowLocation     string
}

// DispatchConfig selects how a started run is handed off.
type DispatchConfig struct {
	Mode      string
	Workers   int
	QueueSize int
	// StaleAfter is how long a processing run may go without an update
	// before it can be resumed.
	StaleAfter time.Duration
}

// ERPConfig holds the per-call settings for the ERP client.
type ERPConfig struct {
	Timeout time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// env maps config keys to the environment variables the deployment sets.
var env = map[string]string{
	"gcp.project_id":             "PROJECT_ID",
	"gcp.executions_collection":  "FIRESTORE_COLLECTION",
	"gcp.reference_collection":   "REFERENCE_COLLECTION",
	"gcp.connection_collection":  "CONNECTION_COLLECTION",
	"gcp.header_rows_collection": "HEADER_ROWS_COLLECTION",
	"gcp.item_rows_collection":   "ITEM_ROWS_COLLECTION",
	"gcp.tax_rows_collection":    "TAX_ROWS_COLLECTION",
	"gcp.comparison_bucket":      "COMPARISON_BUCKET",
	"gcp.workflow_id":            "WORKFLOW_ID",
	"gcp.workflow_location":      "WORKFLOW_LOCATION",
	"dispatch.mode":              "DISPATCH_MODE",
	"dispatch.workers":           "RUNNER_WORKERS",
	"dispatch.queue_size":        "RUNNER_QUEUE",
	"dispatch.stale_after":       "RESUME_STALE_AFTER",
	"erp.timeout":                "ERP_TIMEOUT",
	"log.level":                  "LOG_LEVEL",
	"log.format":                 "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gcp.executions_collection", "replication_executions")
	v.SetDefault("gcp.reference_collection", "reference_documents")
	v.SetDefault("gcp.connection_collection", "erp_connections")
	v.SetDefault("gcp.header_rows_collection", "comparison_header_rows")
	v.SetDefault("gcp.item_rows_collection", "comparison_item_rows")
	v.SetDefault("gcp.tax_rows_collection", "comparison_tax_rows")
	v.SetDefault("gcp.workflow_id", "order-replication-orchestrator")
	v.SetDefault("gcp.workflow_location", "us-central1")
	v.SetDefault("dispatch.mode", DispatchWorkflow)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 32)
	v.SetDefault("dispatch.stale_after", time.Hour)
	v.SetDefault("erp.timeout", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from defaults, config.yaml and the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
	}

	cfg := &Config{
		GCP: GCPConfig{
			ProjectID:            v.GetString("gcp.project_id"),
			ExecutionsCollection: v.GetString("gcp.executions_collection"),
			ReferenceCollection:  v.GetString("gcp.reference_collection"),
			ConnectionCollection: v.GetString("gcp.connection_collection"),
			HeaderRowsCollection: v.GetString("gcp.header_rows_collection"),
			ItemRowsCollection:   v.GetString("gcp.item_rows_collection"),
			TaxRowsCollection:    v.GetString("gcp.tax_rows_collection"),
			ComparisonBucket:     v.GetString("gcp.comparison_bucket"),
			WorkflowID:           v.GetString("gcp.workflow_id"),
			WorkflowLocation:     v.GetString("gcp.workflow_location"),
		},
		Dispatch: DispatchConfig{
			Mode:       v.GetString("dispatch.mode"),
			Workers:    v.GetInt("dispatch.workers"),
			QueueSize:  v.GetInt("dispatch.queue_size"),
			StaleAfter: v.GetDuration("dispatch.stale_after"),
		},
		ERP: ERPConfig{
			Timeout: v.GetDuration("erp.timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GCP.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	switch c.Dispatch.Mode {
	case DispatchWorkflow, DispatchInProcess:
	default:
		return fmt.Errorf("DISPATCH_MODE must be %q or %q, got %q", DispatchWorkflow, DispatchInProcess, c.Dispatch.Mode)
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("RUNNER_WORKERS must be positive")
	}
	if c.ERP.Timeout <= 0 {
		return fmt.Errorf("ERP_TIMEOUT must be positive")
	}
	return nil
}
