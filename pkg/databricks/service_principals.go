package databricks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/harun/dbperms-mcp/pkg/apierr"
)

const (
	servicePrincipalsPath = "/api/2.0/account/scim/v2/ServicePrincipals"

	scimServicePrincipalSchema = "urn:ietf:params:scim:schemas:core:2.0:ServicePrincipal"
	scimPatchOpSchema          = "urn:ietf:params:scim:api:messages:2.0:PatchOp"

	entitlementAllowClusterCreate = "allow-cluster-create"
)

// CreateServicePrincipalRequest describes a new service principal
type CreateServicePrincipalRequest struct {
	DisplayName        string `json:"display_name"`
	ApplicationID      string `json:"application_id"`
	AllowClusterCreate bool   `json:"allow_cluster_create,omitempty"`
}

// ListServicePrincipalsRequest filters and pages the service principal list
type ListServicePrincipalsRequest struct {
	Filter     string `json:"filter,omitempty"`
	Count      int    `json:"count,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
}

// ServicePrincipalRef identifies a service principal by its SCIM id
type ServicePrincipalRef struct {
	ID string `json:"id"`
}

// UpdateServicePrincipalRequest changes a service principal. Unset fields are left alone.
type UpdateServicePrincipalRequest struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"display_name,omitempty"`
	AllowClusterCreate *bool  `json:"allow_cluster_create,omitempty"`
}

type scimEntitlement struct {
	Value string `json:"value"`
}

type scimPatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// CreateServicePrincipal creates a service principal
func (s *Service) CreateServicePrincipal(ctx context.Context, req CreateServicePrincipalRequest) (json.RawMessage, error) {
	if err := required("display_name", req.DisplayName); err != nil {
		return nil, err
	}
	if err := required("application_id", req.ApplicationID); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"schemas":       []string{scimServicePrincipalSchema},
		"displayName":   req.DisplayName,
		"applicationId": req.ApplicationID,
	}
	if req.AllowClusterCreate {
		body["entitlements"] = []scimEntitlement{{Value: entitlementAllowClusterCreate}}
	}

	return s.send(ctx, http.MethodPost, servicePrincipalsPath, body)
}

// ListServicePrincipals lists service principals
func (s *Service) ListServicePrincipals(ctx context.Context, req ListServicePrincipalsRequest) (json.RawMessage, error) {
	if req.Count < 0 {
		return nil, apierr.Validation("count", "count must not be negative")
	}
	if req.StartIndex < 0 {
		return nil, apierr.Validation("start_index", "start_index must not be negative")
	}

	query := url.Values{}
	if req.Filter != "" {
		query.Set("filter", req.Filter)
	}
	if req.Count > 0 {
		query.Set("count", strconv.Itoa(req.Count))
	}
	if req.StartIndex > 0 {
		query.Set("startIndex", strconv.Itoa(req.StartIndex))
	}

	return s.get(ctx, servicePrincipalsPath, query)
}

// GetServicePrincipal returns one service principal
func (s *Service) GetServicePrincipal(ctx context.Context, req ServicePrincipalRef) (json.RawMessage, error) {
	if err := required("id", req.ID); err != nil {
		return nil, err
	}
	return s.get(ctx, servicePrincipalsPath+"/"+segment(req.ID), nil)
}

// UpdateServicePrincipal patches a service principal with a SCIM PatchOp
func (s *Service) UpdateServicePrincipal(ctx context.Context, req UpdateServicePrincipalRequest) (json.RawMessage, error) {
	if err := required("id", req.ID); err != nil {
		return nil, err
	}

	var ops []scimPatchOperation
	if req.DisplayName != "" {
		ops = append(ops, scimPatchOperation{Op: "replace", Path: "displayName", Value: req.DisplayName})
	}
	if req.AllowClusterCreate != nil {
		entitlement := []scimEntitlement{{Value: entitlementAllowClusterCreate}}
		if *req.AllowClusterCreate {
			ops = append(ops, scimPatchOperation{Op: "add", Path: "entitlements", Value: entitlement})
		} else {
			ops = append(ops, scimPatchOperation{
				Op:   "remove",
				Path: `entitlements[value eq "` + entitlementAllowClusterCreate + `"]`,
			})
		}
	}
	if len(ops) == 0 {
		return nil, apierr.Validation("display_name", "at least one of display_name or allow_cluster_create must be provided")
	}

	body := map[string]interface{}{
		"schemas":    []string{scimPatchOpSchema},
		"Operations": ops,
	}
	return s.send(ctx, http.MethodPatch, servicePrincipalsPath+"/"+segment(req.ID), body)
}

// DeleteServicePrincipal deletes a service principal
func (s *Service) DeleteServicePrincipal(ctx context.Context, req ServicePrincipalRef) (json.RawMessage, error) {
	if err := required("id", req.ID); err != nil {
		return nil, err
	}
	return s.delete(ctx, servicePrincipalsPath+"/"+segment(req.ID))
}
