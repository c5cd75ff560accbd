package databricks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/harun/dbperms-mcp/pkg/apierr"
)

const sharesPath = "/api/2.1/unity-catalog/shares"

var sharePrivileges = newEnum("SELECT", "USAGE")

// SharePrivileges returns the privileges that can be granted on a share
func SharePrivileges() []string {
	return sharePrivileges.Values()
}

// PermissionsChange adds and removes privileges for one principal
type PermissionsChange struct {
	Principal string   `json:"principal"`
	Add       []string `json:"add,omitempty"`
	Remove    []string `json:"remove,omitempty"`
}

// UpdateSharePermissionsRequest applies privilege changes to a share
type UpdateSharePermissionsRequest struct {
	Name    string              `json:"name"`
	Changes []PermissionsChange `json:"changes"`
}

// GetShareRequest identifies a share
type GetShareRequest struct {
	Name              string `json:"name"`
	IncludeSharedData bool   `json:"include_shared_data,omitempty"`
}

// GetSharePermissions returns the grants on a share
func (s *Service) GetSharePermissions(ctx context.Context, req NameRef) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}
	return s.get(ctx, sharesPath+"/"+segment(req.Name)+"/permissions", nil)
}

// UpdateSharePermissions changes the grants on a share
func (s *Service) UpdateSharePermissions(ctx context.Context, req UpdateSharePermissionsRequest) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}
	if req.Changes == nil {
		return nil, apierr.Missing("changes")
	}

	for i, change := range req.Changes {
		if err := required(fmt.Sprintf("changes[%d].principal", i), change.Principal); err != nil {
			return nil, err
		}
		for _, privilege := range change.Add {
			if err := sharePrivileges.check(fmt.Sprintf("changes[%d].add", i), privilege); err != nil {
				return nil, err
			}
		}
		for _, privilege := range change.Remove {
			if err := sharePrivileges.check(fmt.Sprintf("changes[%d].remove", i), privilege); err != nil {
				return nil, err
			}
		}
	}

	body := map[string]interface{}{"changes": req.Changes}
	return s.send(ctx, http.MethodPatch, sharesPath+"/"+segment(req.Name)+"/permissions", body)
}

// ListShares lists the shares in the metastore
func (s *Service) ListShares(ctx context.Context, req ListRequest) (json.RawMessage, error) {
	query, err := maxResultsQuery(req.MaxResults)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, sharesPath, query)
}

// GetShare returns one share, optionally with the data objects it shares
func (s *Service) GetShare(ctx context.Context, req GetShareRequest) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}

	var query url.Values
	if req.IncludeSharedData {
		query = url.Values{"include_shared_data": []string{"true"}}
	}
	return s.get(ctx, sharesPath+"/"+segment(req.Name), query)
}
