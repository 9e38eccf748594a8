package config

// Catalog is the top-level job catalog.
type Catalog struct {
	Version string   `yaml:"version" json:"version"`
	Gate    GateConf `yaml:"gate" json:"gate"`
	Jobs    []JobDef `yaml:"jobs" json:"jobs"`
}

// GateConf holds tunable scheduling settings.
type GateConf struct {
	AdmitIntervalMs  int `yaml:"admit_interval_ms" json:"admit_interval_ms"`
	PreviewWorkers   int `yaml:"preview_workers" json:"preview_workers"`
	QueueDepth       int `yaml:"queue_depth" json:"queue_depth"`
	PreviewTimeoutMs int `yaml:"preview_timeout_ms" json:"preview_timeout_ms"`
}

// JobDef declares a job, the jobs it triggers, and its blocking options.
type JobDef struct {
	Name       string   `yaml:"name" json:"name"`
	Downstream []string `yaml:"downstream" json:"downstream"`

	// Native scheduler options.
	BlockWhenUpstreamBuilding   bool `yaml:"block_when_upstream_building" json:"block_when_upstream_building"`
	BlockWhenDownstreamBuilding bool `yaml:"block_when_downstream_building" json:"block_when_downstream_building"`

	Pipeline *PipelineDef `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
}

// PipelineDef is the form representation of a pipeline config. Final job
// lists are comma-delimited.
type PipelineDef struct {
	BlockUpstream   bool   `yaml:"block_upstream" json:"block_upstream"`
	FinalUpstream   string `yaml:"final_upstream" json:"final_upstream"`
	BlockDownstream bool   `yaml:"block_downstream" json:"block_downstream"`
	FinalDownstream string `yaml:"final_downstream" json:"final_downstream"`
}
