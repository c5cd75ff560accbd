package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/dbperms-mcp/pkg/databricks"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
)

// ObjectFamily is a securable object kind with its own get/set/update
// permission tools
type ObjectFamily struct {
	Name       string // tool name fragment, e.g. "cluster"
	Label      string // human readable, e.g. "a cluster"
	IDParam    string // e.g. "cluster_id"
	ObjectType string // permissions API object type, e.g. "clusters"
}

// ObjectFamilies lists every object kind that gets dedicated permission tools
var ObjectFamilies = []ObjectFamily{
	{Name: "cluster", Label: "a cluster", IDParam: "cluster_id", ObjectType: "clusters"},
	{Name: "job", Label: "a job", IDParam: "job_id", ObjectType: "jobs"},
	{Name: "warehouse", Label: "a SQL warehouse", IDParam: "warehouse_id", ObjectType: "sql/warehouses"},
	{Name: "workspace_object", Label: "a workspace directory", IDParam: "object_id", ObjectType: "directories"},
	{Name: "notebook", Label: "a notebook", IDParam: "notebook_id", ObjectType: "notebooks"},
	{Name: "dashboard", Label: "a SQL dashboard", IDParam: "dashboard_id", ObjectType: "sql/dashboards"},
	{Name: "query", Label: "a SQL query", IDParam: "query_id", ObjectType: "sql/queries"},
	{Name: "alert", Label: "a SQL alert", IDParam: "alert_id", ObjectType: "sql/alerts"},
	{Name: "repo", Label: "a Git folder (repo)", IDParam: "repo_id", ObjectType: "repos"},
	{Name: "serving_endpoint", Label: "a model serving endpoint", IDParam: "endpoint_id", ObjectType: "serving-endpoints"},
	{Name: "pipeline", Label: "a Delta Live Tables pipeline", IDParam: "pipeline_id", ObjectType: "pipelines"},
	{Name: "instance_pool", Label: "an instance pool", IDParam: "pool_id", ObjectType: "instance-pools"},
	{Name: "cluster_policy", Label: "a cluster policy", IDParam: "policy_id", ObjectType: "cluster-policies"},
	{Name: "token", Label: "a token", IDParam: "token_id", ObjectType: "tokens"},
}

func joinValues(values []string) string {
	return strings.Join(values, ", ")
}

func aclParam() param {
	return param{
		Name:        "access_control_list",
		Type:        "array",
		Items:       "object",
		Description: "Access control entries: [{\"user_name\" | \"group_name\" | \"service_principal_name\": \"...\", \"permission_level\": \"CAN_MANAGE\"}]; levels: " + joinValues(databricks.PermissionLevels()),
		Required:    true,
	}
}

func permissionTools(svc *databricks.Service) []toolexecutor.ToolDefinition {
	objectType := param{
		Name:        "object_type",
		Type:        "string",
		Description: "Object type",
		Required:    true,
		Enum:        databricks.ObjectTypes(),
	}
	objectID := param{Name: "object_id", Type: toolexecutor.TypeID, Description: "Object id", Required: true}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "get_permissions",
			Description: "Get permissions for a Databricks object with parameters: object_type (required, e.g. 'clusters', 'jobs'), object_id (required)",
			Category:    toolexecutor.CategoryPermissions,
			ReadOnly:    true,
			Parameters:  []param{objectType, objectID},
			Handler:     toolexecutor.Typed(svc.GetPermissions),
		},
		{
			Name:        "set_permissions",
			Description: "Replace the permissions of a Databricks object with parameters: object_type (required), object_id (required), access_control_list (required)",
			Category:    toolexecutor.CategoryPermissions,
			Parameters:  []param{objectType, objectID, aclParam()},
			Handler:     toolexecutor.Typed(svc.SetPermissions),
		},
		{
			Name:        "update_permissions",
			Description: "Add to the permissions of a Databricks object with parameters: object_type (required), object_id (required), access_control_list (required)",
			Category:    toolexecutor.CategoryPermissions,
			Parameters:  []param{objectType, objectID, aclParam()},
			Handler:     toolexecutor.Typed(svc.UpdatePermissions),
		},
		{
			Name:        "get_permission_levels",
			Description: "Get available permission levels for a Databricks object type with parameters: object_type (required), object_id (optional)",
			Category:    toolexecutor.CategoryPermissions,
			ReadOnly:    true,
			Parameters: []param{
				objectType,
				{Name: "object_id", Type: toolexecutor.TypeID, Description: "Object id, to get the levels of one object"},
			},
			Handler: toolexecutor.Typed(svc.GetPermissionLevels),
		},
	}
}

func objectPermissionTools(svc *databricks.Service) []toolexecutor.ToolDefinition {
	defs := make([]toolexecutor.ToolDefinition, 0, 3*len(ObjectFamilies))

	for _, family := range ObjectFamilies {
		id := param{Name: family.IDParam, Type: toolexecutor.TypeID, Description: fmt.Sprintf("Id of %s", family.Label), Required: true}

		defs = append(defs,
			toolexecutor.ToolDefinition{
				Name:        fmt.Sprintf("get_%s_permissions", family.Name),
				Description: fmt.Sprintf("Get permissions for %s with parameter: %s (required)", family.Label, family.IDParam),
				Category:    toolexecutor.CategoryPermissions,
				ReadOnly:    true,
				Parameters:  []param{id},
				Handler:     family.handler(func(ctx context.Context, req databricks.SetPermissionsRequest) (json.RawMessage, error) {
					return svc.GetPermissions(ctx, databricks.ObjectRef{ObjectType: req.ObjectType, ObjectID: req.ObjectID})
				}),
			},
			toolexecutor.ToolDefinition{
				Name:        fmt.Sprintf("set_%s_permissions", family.Name),
				Description: fmt.Sprintf("Replace the permissions of %s with parameters: %s (required), access_control_list (required)", family.Label, family.IDParam),
				Category:    toolexecutor.CategoryPermissions,
				Parameters:  []param{id, aclParam()},
				Handler:     family.handler(svc.SetPermissions),
			},
			toolexecutor.ToolDefinition{
				Name:        fmt.Sprintf("update_%s_permissions", family.Name),
				Description: fmt.Sprintf("Add to the permissions of %s with parameters: %s (required), access_control_list (required)", family.Label, family.IDParam),
				Category:    toolexecutor.CategoryPermissions,
				Parameters:  []param{id, aclParam()},
				Handler:     family.handler(svc.UpdatePermissions),
			},
		)
	}

	return defs
}

// handler maps the family's id parameter onto object_id, fixes the object
// type and decodes the rest of the bag into a permissions request
func (f ObjectFamily) handler(fn func(context.Context, databricks.SetPermissionsRequest) (json.RawMessage, error)) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (json.RawMessage, error) {
		bag := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			if k == f.IDParam {
				k = "object_id"
			}
			bag[k] = v
		}
		bag["object_type"] = f.ObjectType

		var req databricks.SetPermissionsRequest
		if err := toolexecutor.Decode(bag, &req); err != nil {
			return nil, err
		}
		return fn(ctx, req)
	}
}
