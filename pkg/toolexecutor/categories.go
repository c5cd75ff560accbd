package toolexecutor

import "strings"

// ToolCategory groups tools by the resource family they act on
type ToolCategory string

const (
	CategoryPermissions        ToolCategory = "permissions"
	CategoryServicePrincipals  ToolCategory = "service_principals"
	CategoryStorageCredentials ToolCategory = "storage_credentials"
	CategoryCredentials        ToolCategory = "credentials"
	CategoryShares             ToolCategory = "shares"
	CategoryGitCredentials     ToolCategory = "git_credentials"
)

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryPermissions,
		CategoryServicePrincipals,
		CategoryStorageCredentials,
		CategoryCredentials,
		CategoryShares,
		CategoryGitCredentials,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}
