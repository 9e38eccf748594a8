package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Decode parses a catalog, choosing the format from the file extension:
// .yaml/.yml, .json/.jsonc (comments and trailing commas allowed) or .hcl.
func Decode(path string, data []byte) (*Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var cat Catalog
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, err
		}
		return &cat, nil
	case ".json", ".jsonc":
		var cat Catalog
		if err := json.Unmarshal(jsonc.ToJSON(data), &cat); err != nil {
			return nil, err
		}
		return &cat, nil
	case ".hcl":
		return decodeHCL(path, data)
	}
	return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
}

// hclCatalog mirrors Catalog in HCL block form:
//
//	version = "v1"
//	gate { admit_interval_ms = 500 }
//	job "build" {
//	  downstream = ["test"]
//	  pipeline {
//	    block_downstream = true
//	    final_downstream = "test"
//	  }
//	}
type hclCatalog struct {
	Version string    `hcl:"version,optional"`
	Gate    *hclGate  `hcl:"gate,block"`
	Jobs    []*hclJob `hcl:"job,block"`
}

type hclGate struct {
	AdmitIntervalMs  int `hcl:"admit_interval_ms,optional"`
	PreviewWorkers   int `hcl:"preview_workers,optional"`
	QueueDepth       int `hcl:"queue_depth,optional"`
	PreviewTimeoutMs int `hcl:"preview_timeout_ms,optional"`
}

type hclJob struct {
	Name                        string       `hcl:"name,label"`
	Downstream                  []string     `hcl:"downstream,optional"`
	BlockWhenUpstreamBuilding   bool         `hcl:"block_when_upstream_building,optional"`
	BlockWhenDownstreamBuilding bool         `hcl:"block_when_downstream_building,optional"`
	Pipeline                    *hclPipeline `hcl:"pipeline,block"`
}

type hclPipeline struct {
	BlockUpstream   bool   `hcl:"block_upstream,optional"`
	FinalUpstream   string `hcl:"final_upstream,optional"`
	BlockDownstream bool   `hcl:"block_downstream,optional"`
	FinalDownstream string `hcl:"final_downstream,optional"`
}

func decodeHCL(path string, data []byte) (*Catalog, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, diags
	}
	var root hclCatalog
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, diags
	}
	cat := &Catalog{Version: root.Version}
	if root.Gate != nil {
		cat.Gate = GateConf(*root.Gate)
	}
	for _, j := range root.Jobs {
		def := JobDef{
			Name:                        j.Name,
			Downstream:                  j.Downstream,
			BlockWhenUpstreamBuilding:   j.BlockWhenUpstreamBuilding,
			BlockWhenDownstreamBuilding: j.BlockWhenDownstreamBuilding,
		}
		if j.Pipeline != nil {
			p := PipelineDef(*j.Pipeline)
			def.Pipeline = &p
		}
		cat.Jobs = append(cat.Jobs, def)
	}
	return cat, nil
}
