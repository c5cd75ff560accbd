package databricks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/harun/dbperms-mcp/pkg/apierr"
)

const permissionsPath = "/api/2.0/permissions"

var objectTypes = newEnum(
	"clusters",
	"jobs",
	"notebooks",
	"directories",
	"registered-models",
	"experiments",
	"sql/warehouses",
	"sql/dashboards",
	"sql/queries",
	"sql/alerts",
	"repos",
	"serving-endpoints",
	"pipelines",
	"instance-pools",
	"cluster-policies",
	"tokens",
)

var permissionLevels = newEnum(
	"CAN_VIEW",
	"CAN_MANAGE",
	"CAN_EDIT",
	"CAN_RUN",
	"CAN_USE",
	"CAN_RESTART",
	"CAN_ATTACH_TO",
	"IS_OWNER",
	"CAN_READ",
	"CAN_MANAGE_RUN",
	"CAN_QUERY",
	"CAN_MONITOR",
)

// ObjectTypes returns the object types accepted by the permissions API
func ObjectTypes() []string {
	return objectTypes.Values()
}

// PermissionLevels returns the accepted permission levels
func PermissionLevels() []string {
	return permissionLevels.Values()
}

// AccessControlRequest grants a permission level to one principal
type AccessControlRequest struct {
	UserName             string `json:"user_name,omitempty"`
	GroupName            string `json:"group_name,omitempty"`
	ServicePrincipalName string `json:"service_principal_name,omitempty"`
	PermissionLevel      string `json:"permission_level,omitempty"`
}

// ObjectRef identifies a securable object
type ObjectRef struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
}

// SetPermissionsRequest replaces or updates an object's access control list
type SetPermissionsRequest struct {
	ObjectType        string                 `json:"object_type"`
	ObjectID          string                 `json:"object_id"`
	AccessControlList []AccessControlRequest `json:"access_control_list"`
}

// PermissionLevelsRequest asks which levels an object type or object supports
type PermissionLevelsRequest struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id,omitempty"`
}

func (r ObjectRef) validate() error {
	if err := required("object_type", r.ObjectType); err != nil {
		return err
	}
	if err := objectTypes.check("object_type", r.ObjectType); err != nil {
		return err
	}
	return required("object_id", r.ObjectID)
}

func (r ObjectRef) path() string {
	return fmt.Sprintf("%s/%s/%s", permissionsPath, r.ObjectType, segment(r.ObjectID))
}

// validateACL checks permission levels that are present. An entry without
// one is passed through for the workspace to judge.
func validateACL(acl []AccessControlRequest) error {
	for i, ace := range acl {
		if ace.PermissionLevel == "" {
			continue
		}
		param := fmt.Sprintf("access_control_list[%d].permission_level", i)
		if err := permissionLevels.check(param, ace.PermissionLevel); err != nil {
			return err
		}
	}
	return nil
}

// GetPermissions returns the access control list of an object
func (s *Service) GetPermissions(ctx context.Context, ref ObjectRef) (json.RawMessage, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	return s.get(ctx, ref.path(), nil)
}

// SetPermissions replaces the access control list of an object
func (s *Service) SetPermissions(ctx context.Context, req SetPermissionsRequest) (json.RawMessage, error) {
	return s.writePermissions(ctx, http.MethodPut, req)
}

// UpdatePermissions merges entries into the access control list of an object
func (s *Service) UpdatePermissions(ctx context.Context, req SetPermissionsRequest) (json.RawMessage, error) {
	return s.writePermissions(ctx, http.MethodPatch, req)
}

func (s *Service) writePermissions(ctx context.Context, method string, req SetPermissionsRequest) (json.RawMessage, error) {
	ref := ObjectRef{ObjectType: req.ObjectType, ObjectID: req.ObjectID}
	if err := ref.validate(); err != nil {
		return nil, err
	}
	if req.AccessControlList == nil {
		return nil, apierr.Missing("access_control_list")
	}
	if err := validateACL(req.AccessControlList); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"access_control_list": req.AccessControlList,
	}
	return s.send(ctx, method, ref.path(), body)
}

// GetPermissionLevels lists the permission levels available for an object
// type, or for one object when ObjectID is set
func (s *Service) GetPermissionLevels(ctx context.Context, req PermissionLevelsRequest) (json.RawMessage, error) {
	if err := required("object_type", req.ObjectType); err != nil {
		return nil, err
	}
	if err := objectTypes.check("object_type", req.ObjectType); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/%s", permissionsPath, req.ObjectType)
	if req.ObjectID != "" {
		path = fmt.Sprintf("%s/%s/permissionLevels", path, segment(req.ObjectID))
	}
	return s.get(ctx, path, nil)
}
