package toolexecutor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const categoryPrefix = "category:"

// ToolPolicy decides which tools are exposed. Entries are tool names, glob
// patterns such as "delete_*", or "category:<name>". Deny overrides allow; an empty allow list allows
// everything. ReadOnly hides every tool that changes remote state.
type ToolPolicy struct {
	Allow    []string `json:"allow" mapstructure:"allow"`
	Deny     []string `json:"deny" mapstructure:"deny"`
	ReadOnly bool     `json:"read_only" mapstructure:"read_only"`
}

func (tp *ToolPolicy) matches(entry string, def *ToolDefinition) bool {
	if entry == "*" || entry == def.Name {
		return true
	}
	if strings.HasPrefix(entry, categoryPrefix) {
		return ToolCategory(strings.TrimPrefix(entry, categoryPrefix)) == def.Category
	}
	matched, err := filepath.Match(entry, def.Name)
	return err == nil && matched
}

// Allows checks if a tool is allowed by the policy
func (tp *ToolPolicy) Allows(def *ToolDefinition) bool {
	if tp == nil {
		return true
	}
	if tp.ReadOnly && !def.ReadOnly {
		return false
	}

	for _, denied := range tp.Deny {
		if tp.matches(denied, def) {
			return false
		}
	}

	if len(tp.Allow) == 0 {
		return true
	}
	for _, allowed := range tp.Allow {
		if tp.matches(allowed, def) {
			return true
		}
	}
	return false
}

// Validate checks that every category entry names a known category
func (tp *ToolPolicy) Validate() error {
	if tp == nil {
		return nil
	}

	hasAllowWildcard := false
	hasDenyWildcard := false

	for _, list := range [][]string{tp.Allow, tp.Deny} {
		for _, entry := range list {
			if entry == "" {
				return fmt.Errorf("tool policy entries cannot be empty")
			}
			if strings.HasPrefix(entry, categoryPrefix) && !IsValidCategory(strings.TrimPrefix(entry, categoryPrefix)) {
				return fmt.Errorf("unknown tool category in policy: %s", entry)
			}
			if _, err := filepath.Match(entry, ""); err != nil {
				return fmt.Errorf("invalid tool pattern %q: %w", entry, err)
			}
		}
	}
	for _, allowed := range tp.Allow {
		if allowed == "*" {
			hasAllowWildcard = true
		}
	}
	for _, denied := range tp.Deny {
		if denied == "*" {
			hasDenyWildcard = true
		}
	}

	if hasAllowWildcard && hasDenyWildcard {
		log.Warn().Msg("Tool policy has both allow and deny wildcards - deny will override allow")
	}

	return nil
}
