package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/2389-research/agentkit/llm"
	"gopkg.in/yaml.v3"
)

// Toolset split-fallback reason constants (spec §4.8).
const (
	ReasonNoLLMClient           = "no_llm_client"
	ReasonLLMBadResponseContent = "llm_bad_response_content"
	ReasonLLMCallFailure        = "llm_call_failure"
	ReasonLLMEmptyResponse      = "llm_empty_response"
	ReasonLLMJSONParseFailure   = "llm_json_parse_failure"
	ReasonLLMInvalidJSONStruct  = "llm_invalid_json_structure"
	ReasonLLMUnassignedMisc     = "llm_unassigned_misc"
	ReasonLLMSplitIssuesOrEmpty = "llm_split_issues_or_empty"
)

// creationStrategy mirrors the spec's provider-source creation_strategy enum.
type creationStrategy string

const (
	StrategyByTag    creationStrategy = "by_tag"
	StrategyAllInOne creationStrategy = "all_in_one"
)

// ProviderSourceConfig is one entry in a toolset provider-source document
// (spec §4.8).
type ProviderSourceConfig struct {
	ID                      string           `yaml:"id"`
	Type                    string           `yaml:"type"`
	ProviderOptions         map[string]any   `yaml:"provider_options"`
	CreationStrategy        creationStrategy `yaml:"creation_strategy"`
	MaxToolsPerLogicalGroup int              `yaml:"max_tools_per_logical_group"`
	AllInOneName            string           `yaml:"all_in_one_name"`
	AllInOneDescription     string           `yaml:"all_in_one_description"`
}

// LoadProviderConfigs reads a YAML document of ProviderSourceConfig entries
// from path (spec §4.8's input list, configured the way the teacher
// configures structured, non-server settings: via gopkg.in/yaml.v3).
func LoadProviderConfigs(path string) ([]ProviderSourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CoreError{Kind: ErrConfiguration, Message: "reading provider config file", Cause: err}
	}
	var configs []ProviderSourceConfig
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return nil, &CoreError{Kind: ErrConfiguration, Message: "parsing provider config YAML", Cause: err}
	}
	return configs, nil
}

// OperationTool is implemented by tools derived from an OpenAPI operation,
// distinguishing them from auxiliary (non-operation) tools when an
// oversized toolset is split (spec §4.8 step 5).
type OperationTool interface {
	Tool
	OperationID() string
	Summary() string
}

// ToolSource is the capability a provider-source config resolves to: an
// initialized collection of tools, optionally tagged.
type ToolSource interface {
	EnsureInitialized(ctx context.Context) error
	Tools(ctx context.Context) ([]Tool, error)
	// TagsFor returns the tags associated with a tool, or nil if the source
	// does not support tagging.
	TagsFor(tool Tool) []string
	APITitle() string
	BaseURL() string
}

// ToolsetOrchestrator builds named tool groups (specialists) from
// provider-source configurations (spec §4.8).
type ToolsetOrchestrator struct {
	// Sources maps a ProviderSourceConfig.Type to a constructor that turns
	// its ProviderOptions into a ToolSource.
	Sources map[string]func(opts map[string]any) (ToolSource, error)
	LLM     LLMClient
}

// NewToolsetOrchestrator creates an orchestrator over the given source
// constructors.
func NewToolsetOrchestrator(sources map[string]func(opts map[string]any) (ToolSource, error), llmClient LLMClient) *ToolsetOrchestrator {
	return &ToolsetOrchestrator{Sources: sources, LLM: llmClient}
}

// Build constructs toolsets for every provider-source config, in order.
// Collisions among toolset ids are reported as warnings; the later entry
// replaces the earlier one.
func (o *ToolsetOrchestrator) Build(ctx context.Context, configs []ProviderSourceConfig) ([]ToolSet, []string, error) {
	byID := make(map[string]ToolSet)
	order := make([]string, 0, len(configs))
	var warnings []string

	for _, cfg := range configs {
		ctor, ok := o.Sources[cfg.Type]
		if !ok {
			return nil, warnings, &CoreError{Kind: ErrConfiguration, Message: fmt.Sprintf("no tool source registered for provider type %q", cfg.Type)}
		}
		source, err := ctor(cfg.ProviderOptions)
		if err != nil {
			return nil, warnings, &CoreError{Kind: ErrConfiguration, Message: fmt.Sprintf("constructing provider %q", cfg.ID), Cause: err}
		}
		if err := source.EnsureInitialized(ctx); err != nil {
			return nil, warnings, &CoreError{Kind: ErrConfiguration, Message: fmt.Sprintf("initializing provider %q", cfg.ID), Cause: err}
		}

		sets, err := o.buildConfigToolsets(ctx, cfg, source)
		if err != nil {
			return nil, warnings, err
		}
		for _, ts := range sets {
			if _, exists := byID[ts.ID]; exists {
				warnings = append(warnings, fmt.Sprintf("toolset id collision: %q replaced by a later entry", ts.ID))
			} else {
				order = append(order, ts.ID)
			}
			byID[ts.ID] = ts
		}
	}

	result := make([]ToolSet, 0, len(order))
	for _, id := range order {
		result = append(result, byID[id])
	}
	return result, warnings, nil
}

func (o *ToolsetOrchestrator) buildConfigToolsets(ctx context.Context, cfg ProviderSourceConfig, source ToolSource) ([]ToolSet, error) {
	tools, err := source.Tools(ctx)
	if err != nil {
		return nil, &CoreError{Kind: ErrLLM, Message: fmt.Sprintf("listing tools for provider %q", cfg.ID), Cause: err}
	}

	var base []ToolSet
	switch cfg.CreationStrategy {
	case StrategyByTag:
		groups := groupByTag(tools, source)
		if len(groups) == 0 {
			base = []ToolSet{allInOneToolset(cfg, source, tools)}
		} else {
			for tag, tagged := range groups {
				base = append(base, ToolSet{
					ID:          sanitizeToolName(cfg.ID + "_tag_" + tag),
					Name:        tag,
					Description: fmt.Sprintf("Tools tagged %q from %s", tag, source.APITitle()),
					Tools:       tagged,
					Metadata: ToolSetMetadata{
						SourceID:     cfg.ID,
						ProviderType: cfg.Type,
						APITitle:     source.APITitle(),
						OriginalTag:  tag,
						BaseURL:      source.BaseURL(),
					},
				})
			}
		}
	default:
		base = []ToolSet{allInOneToolset(cfg, source, tools)}
	}

	out := make([]ToolSet, 0, len(base))
	for _, ts := range base {
		if cfg.MaxToolsPerLogicalGroup > 0 && len(ts.Tools) > cfg.MaxToolsPerLogicalGroup {
			split := o.splitOversized(ctx, cfg, ts)
			out = append(out, split...)
		} else {
			out = append(out, ts)
		}
	}
	return out, nil
}

func allInOneToolset(cfg ProviderSourceConfig, source ToolSource, tools []Tool) ToolSet {
	name := cfg.AllInOneName
	if name == "" {
		name = cfg.ID
	}
	desc := cfg.AllInOneDescription
	if desc == "" {
		desc = fmt.Sprintf("All tools from %s", source.APITitle())
	}
	return ToolSet{
		ID:          sanitizeToolName(cfg.ID),
		Name:        name,
		Description: desc,
		Tools:       tools,
		Metadata: ToolSetMetadata{
			SourceID:     cfg.ID,
			ProviderType: cfg.Type,
			APITitle:     source.APITitle(),
			BaseURL:      source.BaseURL(),
		},
	}
}

func groupByTag(tools []Tool, source ToolSource) map[string][]Tool {
	groups := make(map[string][]Tool)
	for _, t := range tools {
		tags := source.TagsFor(t)
		for _, tag := range tags {
			groups[tag] = append(groups[tag], t)
		}
	}
	return groups
}

// splitOversized partitions an oversized toolset using the LLM, or falls
// back to a single unsplit toolset tagged with the failure reason
// (spec §4.8 step 5).
func (o *ToolsetOrchestrator) splitOversized(ctx context.Context, cfg ProviderSourceConfig, ts ToolSet) []ToolSet {
	if o.LLM == nil {
		return []ToolSet{fallback(ts, ReasonNoLLMClient)}
	}

	var opTools []OperationTool
	var auxTools []Tool
	opsByID := make(map[string]Tool)
	for _, t := range ts.Tools {
		if op, ok := t.(OperationTool); ok {
			opTools = append(opTools, op)
			opsByID[op.OperationID()] = t
		} else {
			auxTools = append(auxTools, t)
		}
	}

	var sets []ToolSet
	if len(auxTools) > 0 {
		sets = append(sets, ToolSet{
			ID:          sanitizeToolName(ts.ID + "_auxiliary_tools"),
			Name:        ts.Name + " (auxiliary)",
			Description: "Non-operation tools carried over from " + ts.Name,
			Tools:       auxTools,
			Metadata:    ts.Metadata,
		})
	}
	if len(opTools) == 0 {
		if len(sets) == 0 {
			return []ToolSet{fallback(ts, ReasonLLMSplitIssuesOrEmpty)}
		}
		return sets
	}

	type opSummary struct {
		OperationID string `json:"operation_id"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
	}
	summaries := make([]opSummary, 0, len(opTools))
	for _, op := range opTools {
		def := op.Definition()
		summaries = append(summaries, opSummary{OperationID: op.OperationID(), Summary: op.Summary(), Description: def.Description})
	}
	payload, _ := json.Marshal(summaries)

	prompt := fmt.Sprintf(
		"Partition the following API operations into coherent logical groups for a tool-using agent. "+
			"Respond with ONLY a JSON object whose keys are group names and whose values are arrays of operation_id "+
			"strings. Every operation_id below must appear in exactly one group.\n\nOperations:\n%s",
		string(payload),
	)

	resp, err := o.LLM.Complete(ctx, llm.Request{
		Model:    cfg.ProviderOptionsModel(),
		Messages: []llm.Message{llm.UserMessage(prompt)},
	})
	if err != nil {
		log.Printf("component=agent.toolset action=split_failed toolset=%s reason=%s", ts.ID, ReasonLLMCallFailure)
		return []ToolSet{fallback(ts, ReasonLLMCallFailure)}
	}
	text := resp.TextContent()
	if text == "" {
		return []ToolSet{fallback(ts, ReasonLLMEmptyResponse)}
	}

	var groups map[string][]string
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &groups); err != nil {
		return []ToolSet{fallback(ts, ReasonLLMJSONParseFailure)}
	}
	if groups == nil {
		return []ToolSet{fallback(ts, ReasonLLMInvalidJSONStruct)}
	}

	assigned := make(map[string]string)
	valid := true
	for group, ids := range groups {
		for _, id := range ids {
			if _, ok := opsByID[id]; !ok {
				valid = false
				continue
			}
			if _, dup := assigned[id]; dup {
				valid = false
				continue
			}
			assigned[id] = group
		}
	}
	if !valid {
		return []ToolSet{fallback(ts, ReasonLLMBadResponseContent)}
	}

	var unassigned []string
	for id := range opsByID {
		if _, ok := assigned[id]; !ok {
			unassigned = append(unassigned, id)
		}
	}
	if len(unassigned) > 0 {
		groups["Miscellaneous"] = append(groups["Miscellaneous"], unassigned...)
		for _, id := range unassigned {
			assigned[id] = "Miscellaneous"
		}
	}

	for group, ids := range groups {
		var groupTools []Tool
		for _, id := range ids {
			if t, ok := opsByID[id]; ok {
				groupTools = append(groupTools, t)
			}
		}
		if len(groupTools) == 0 {
			continue
		}
		meta := ts.Metadata
		meta.LLMGroupName = group
		meta.LLMModelUsed = cfg.ProviderOptionsModel()
		if group == "Miscellaneous" && len(unassigned) > 0 {
			meta.SplitFallback = ReasonLLMUnassignedMisc
		}
		sets = append(sets, ToolSet{
			ID:          sanitizeToolName(ts.ID + "_" + group),
			Name:        group,
			Description: fmt.Sprintf("%s: %s group", ts.Name, group),
			Tools:       groupTools,
			Metadata:    meta,
		})
	}
	return sets
}

func fallback(ts ToolSet, reason string) ToolSet {
	meta := ts.Metadata
	meta.SplitFallback = reason
	ts.Metadata = meta
	return ts
}

// ProviderOptionsModel reads an optional "model" key used for LLM-assisted
// splitting, defaulting to empty (the orchestrator's caller is expected to
// configure a default elsewhere when this is blank).
func (c ProviderSourceConfig) ProviderOptionsModel() string {
	if v, ok := c.ProviderOptions["model"].(string); ok {
		return v
	}
	return ""
}

// extractJSONObject trims a model response down to its outermost {...}
// span, tolerating surrounding prose or code fences.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeToolName enforces the tool-name grammar from spec §6:
// alphanumeric, underscore, hyphen; length ≤64; every other character
// becomes an underscore; empty input becomes "unnamed_id". Idempotent.
func SanitizeToolName(name string) string {
	sanitized := nameSanitizer.ReplaceAllString(name, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	if sanitized == "" {
		return "unnamed_id"
	}
	return sanitized
}

// sanitizeToolName is kept as an unexported alias for in-package call sites.
func sanitizeToolName(name string) string { return SanitizeToolName(name) }
