// Package catalog binds tool names to the Databricks request-shaping functions.
package catalog

import (
	"github.com/harun/dbperms-mcp/pkg/databricks"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
)

type param = toolexecutor.ToolParameter

// NewRegistry builds the immutable tool table backed by svc
func NewRegistry(svc *databricks.Service) (*toolexecutor.Registry, error) {
	return toolexecutor.NewRegistry(Tools(svc)...)
}

// Tools returns every tool definition backed by svc, grouped by resource family
func Tools(svc *databricks.Service) []toolexecutor.ToolDefinition {
	var defs []toolexecutor.ToolDefinition
	defs = append(defs, servicePrincipalTools(svc)...)
	defs = append(defs, storageCredentialTools(svc)...)
	defs = append(defs, credentialTools(svc)...)
	defs = append(defs, permissionTools(svc)...)
	defs = append(defs, objectPermissionTools(svc)...)
	defs = append(defs, shareTools(svc)...)
	defs = append(defs, gitCredentialTools(svc)...)
	return defs
}

func servicePrincipalTools(svc *databricks.Service) []toolexecutor.ToolDefinition {
	id := param{Name: "id", Type: "string", Description: "SCIM id of the service principal", Required: true}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "create_service_principal",
			Description: "Create a service principal with parameters: display_name (required), application_id (required), allow_cluster_create (optional)",
			Category:    toolexecutor.CategoryServicePrincipals,
			Parameters: []param{
				{Name: "display_name", Type: "string", Description: "Display name", Required: true},
				{Name: "application_id", Type: "string", Description: "Application (client) id", Required: true},
				{Name: "allow_cluster_create", Type: "boolean", Description: "Grant the allow-cluster-create entitlement"},
			},
			Handler: toolexecutor.Typed(svc.CreateServicePrincipal),
		},
		{
			Name:        "list_service_principals",
			Description: "List service principals with parameters: filter (optional, SCIM filter), count (optional), start_index (optional, 1-based)",
			Category:    toolexecutor.CategoryServicePrincipals,
			ReadOnly:    true,
			Parameters: []param{
				{Name: "filter", Type: "string", Description: "SCIM filter expression, e.g. displayName eq \"etl\""},
				{Name: "count", Type: "integer", Description: "Maximum number of results"},
				{Name: "start_index", Type: "integer", Description: "1-based index of the first result"},
			},
			Handler: toolexecutor.Typed(svc.ListServicePrincipals),
		},
		{
			Name:        "get_service_principal",
			Description: "Get details of a service principal with parameter: id (required)",
			Category:    toolexecutor.CategoryServicePrincipals,
			ReadOnly:    true,
			Parameters:  []param{id},
			Handler:     toolexecutor.Typed(svc.GetServicePrincipal),
		},
		{
			Name:        "update_service_principal",
			Description: "Update a service principal with parameters: id (required), display_name (optional), allow_cluster_create (optional)",
			Category:    toolexecutor.CategoryServicePrincipals,
			Parameters: []param{
				id,
				{Name: "display_name", Type: "string", Description: "New display name"},
				{Name: "allow_cluster_create", Type: "boolean", Description: "Add or remove the allow-cluster-create entitlement"},
			},
			Handler: toolexecutor.Typed(svc.UpdateServicePrincipal),
		},
		{
			Name:        "delete_service_principal",
			Description: "Delete a service principal with parameter: id (required)",
			Category:    toolexecutor.CategoryServicePrincipals,
			Parameters:  []param{id},
			Handler:     toolexecutor.Typed(svc.DeleteServicePrincipal),
		},
	}
}

func cloudIdentityParams() []param {
	return []param{
		{Name: "aws_iam_role", Type: "object", Description: "AWS IAM role, e.g. {\"role_arn\": \"arn:aws:iam::...\"}"},
		{Name: "azure_service_principal", Type: "object", Description: "Azure service principal: directory_id, application_id, client_secret"},
		{Name: "azure_managed_identity", Type: "object", Description: "Azure managed identity: access_connector_id, managed_identity_id (optional)"},
	}
}

func storageCredentialTools(svc *databricks.Service) []toolexecutor.ToolDefinition {
	name := param{Name: "name", Type: "string", Description: "Storage credential name", Required: true}

	createParams := append([]param{name}, cloudIdentityParams()...)
	createParams = append(createParams,
		param{Name: "comment", Type: "string", Description: "Comment"},
		param{Name: "read_only", Type: "boolean", Description: "Restrict the credential to read access"},
	)

	updateParams := []param{name, {Name: "new_name", Type: "string", Description: "New name"}}
	updateParams = append(updateParams, cloudIdentityParams()...)
	updateParams = append(updateParams,
		param{Name: "comment", Type: "string", Description: "Comment"},
		param{Name: "read_only", Type: "boolean", Description: "Restrict the credential to read access"},
	)

	return []toolexecutor.ToolDefinition{
		{
			Name:        "create_storage_credential",
			Description: "Create a storage credential in Unity Catalog with parameters: name (required), aws_iam_role / azure_service_principal / azure_managed_identity (at most one), comment (optional), read_only (optional)",
			Category:    toolexecutor.CategoryStorageCredentials,
			Parameters:  createParams,
			Handler:     toolexecutor.Typed(svc.CreateStorageCredential),
		},
		{
			Name:        "get_storage_credential",
			Description: "Get details of a storage credential with parameter: name (required)",
			Category:    toolexecutor.CategoryStorageCredentials,
			ReadOnly:    true,
			Parameters:  []param{name},
			Handler:     toolexecutor.Typed(svc.GetStorageCredential),
		},
		{
			Name:        "update_storage_credential",
			Description: "Update a storage credential with parameters: name (required), new_name (optional), aws_iam_role / azure_service_principal / azure_managed_identity (optional, at most one), comment (optional), read_only (optional)",
			Category:    toolexecutor.CategoryStorageCredentials,
			Parameters:  updateParams,
			Handler:     toolexecutor.Typed(svc.UpdateStorageCredential),
		},
		{
			Name:        "delete_storage_credential",
			Description: "Delete a storage credential with parameter: name (required)",
			Category:    toolexecutor.CategoryStorageCredentials,
			Parameters:  []param{name},
			Handler:     toolexecutor.Typed(svc.DeleteStorageCredential),
		},
		{
			Name:        "list_storage_credentials",
			Description: "List storage credentials in Unity Catalog with parameter: max_results (optional)",
			Category:    toolexecutor.CategoryStorageCredentials,
			ReadOnly:    true,
			Parameters:  []param{{Name: "max_results", Type: "integer", Description: "Maximum number of results"}},
			Handler:     toolexecutor.Typed(svc.ListStorageCredentials),
		},
	}
}

func credentialTools(svc *databricks.Service) []toolexecutor.ToolDefinition {
	name := param{Name: "name", Type: "string", Description: "Credential name", Required: true}
	purpose := param{Name: "purpose", Type: "string", Description: "Credential purpose", Enum: databricks.CredentialPurposes()}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "create_credential",
			Description: "Create a service credential in Unity Catalog with parameters: name (required), credential_type (required), credential_info (required), purpose (optional), comment (optional)",
			Category:    toolexecutor.CategoryCredentials,
			Parameters: []param{
				name,
				{Name: "credential_type", Type: "string", Description: "Cloud identity type", Required: true, Enum: databricks.CredentialTypes()},
				{Name: "credential_info", Type: "object", Description: "Identity details for the chosen credential_type", Required: true},
				purpose,
				{Name: "comment", Type: "string", Description: "Comment"},
			},
			Handler: toolexecutor.Typed(svc.CreateCredential),
		},
		{
			Name:        "list_credentials",
			Description: "List service credentials in Unity Catalog with parameters: purpose (optional), max_results (optional)",
			Category:    toolexecutor.CategoryCredentials,
			ReadOnly:    true,
			Parameters: []param{
				purpose,
				{Name: "max_results", Type: "integer", Description: "Maximum number of results"},
			},
			Handler: toolexecutor.Typed(svc.ListCredentials),
		},
		{
			Name:        "update_credential",
			Description: "Update a service credential with parameters: name (required), new_name (optional), credential_type and credential_info (optional, together), comment (optional)",
			Category:    toolexecutor.CategoryCredentials,
			Parameters: []param{
				name,
				{Name: "new_name", Type: "string", Description: "New name"},
				{Name: "credential_type", Type: "string", Description: "Cloud identity type", Enum: databricks.CredentialTypes()},
				{Name: "credential_info", Type: "object", Description: "Identity details for the chosen credential_type"},
				{Name: "comment", Type: "string", Description: "Comment"},
			},
			Handler: toolexecutor.Typed(svc.UpdateCredential),
		},
		{
			Name:        "delete_credential",
			Description: "Delete a service credential with parameter: name (required)",
			Category:    toolexecutor.CategoryCredentials,
			Parameters:  []param{name},
			Handler:     toolexecutor.Typed(svc.DeleteCredential),
		},
	}
}

func shareTools(svc *databricks.Service) []toolexecutor.ToolDefinition {
	name := param{Name: "name", Type: "string", Description: "Share name", Required: true}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "get_share_permissions",
			Description: "Get permissions for a share with parameter: name (required)",
			Category:    toolexecutor.CategoryShares,
			ReadOnly:    true,
			Parameters:  []param{name},
			Handler:     toolexecutor.Typed(svc.GetSharePermissions),
		},
		{
			Name:        "update_share_permissions",
			Description: "Update permissions for a share with parameters: name (required), changes (required, list of {principal, add, remove} with privileges " + joinValues(databricks.SharePrivileges()) + ")",
			Category:    toolexecutor.CategoryShares,
			Parameters: []param{
				name,
				{Name: "changes", Type: "array", Items: "object", Description: "Privilege changes: [{\"principal\": \"...\", \"add\": [\"SELECT\"], \"remove\": []}]; privileges: " + joinValues(databricks.SharePrivileges()), Required: true},
			},
			Handler: toolexecutor.Typed(svc.UpdateSharePermissions),
		},
		{
			Name:        "list_shares",
			Description: "List Delta Sharing shares with parameter: max_results (optional)",
			Category:    toolexecutor.CategoryShares,
			ReadOnly:    true,
			Parameters:  []param{{Name: "max_results", Type: "integer", Description: "Maximum number of results"}},
			Handler:     toolexecutor.Typed(svc.ListShares),
		},
		{
			Name:        "get_share",
			Description: "Get a Delta Sharing share with parameters: name (required), include_shared_data (optional)",
			Category:    toolexecutor.CategoryShares,
			ReadOnly:    true,
			Parameters: []param{
				name,
				{Name: "include_shared_data", Type: "boolean", Description: "Include the data objects in the share"},
			},
			Handler: toolexecutor.Typed(svc.GetShare),
		},
	}
}

func gitCredentialTools(svc *databricks.Service) []toolexecutor.ToolDefinition {
	credentialID := param{Name: "credential_id", Type: toolexecutor.TypeID, Description: "Git credential id", Required: true}
	providers := "Git provider, one of " + joinValues(databricks.GitProviders()) + " (case-insensitive)"

	return []toolexecutor.ToolDefinition{
		{
			Name:        "create_git_credential",
			Description: "Create a Git credential with parameters: git_provider (required), git_username (required), personal_access_token (required), comment (optional)",
			Category:    toolexecutor.CategoryGitCredentials,
			Parameters: []param{
				{Name: "git_provider", Type: "string", Description: providers, Required: true},
				{Name: "git_username", Type: "string", Description: "Git username or email", Required: true},
				{Name: "personal_access_token", Type: "string", Description: "Personal access token", Required: true},
				{Name: "comment", Type: "string", Description: "Comment"},
			},
			Handler: toolexecutor.Typed(svc.CreateGitCredential),
		},
		{
			Name:        "list_git_credentials",
			Description: "List all Git credentials of the calling user",
			Category:    toolexecutor.CategoryGitCredentials,
			ReadOnly:    true,
			Handler:     toolexecutor.Typed(svc.ListGitCredentials),
		},
		{
			Name:        "get_git_credential",
			Description: "Get a Git credential with parameter: credential_id (required)",
			Category:    toolexecutor.CategoryGitCredentials,
			ReadOnly:    true,
			Parameters:  []param{credentialID},
			Handler:     toolexecutor.Typed(svc.GetGitCredential),
		},
		{
			Name:        "update_git_credential",
			Description: "Update a Git credential with parameters: credential_id (required), git_provider (optional), git_username (optional), personal_access_token (optional), comment (optional)",
			Category:    toolexecutor.CategoryGitCredentials,
			Parameters: []param{
				credentialID,
				{Name: "git_provider", Type: "string", Description: providers},
				{Name: "git_username", Type: "string", Description: "Git username or email"},
				{Name: "personal_access_token", Type: "string", Description: "Personal access token"},
				{Name: "comment", Type: "string", Description: "Comment"},
			},
			Handler: toolexecutor.Typed(svc.UpdateGitCredential),
		},
		{
			Name:        "delete_git_credential",
			Description: "Delete a Git credential with parameter: credential_id (required)",
			Category:    toolexecutor.CategoryGitCredentials,
			Parameters:  []param{credentialID},
			Handler:     toolexecutor.Typed(svc.DeleteGitCredential),
		},
	}
}
