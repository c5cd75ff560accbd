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
	storageCredentialsPath = "/api/2.1/unity-catalog/storage-credentials"
	credentialsPath        = "/api/2.1/unity-catalog/credentials"
)

var credentialTypes = newEnum(
	"aws_iam_role",
	"azure_managed_identity",
	"azure_service_principal",
	"databricks_gcp_service_account",
)

var credentialPurposes = newEnum("SERVICE", "STORAGE")

// CredentialTypes returns the accepted service credential types
func CredentialTypes() []string {
	return credentialTypes.Values()
}

// CredentialPurposes returns the accepted service credential purposes
func CredentialPurposes() []string {
	return credentialPurposes.Values()
}

// CloudIdentity holds the cloud specific identity of a storage credential.
// At most one field may be set.
type CloudIdentity struct {
	AWSIAMRole            map[string]interface{} `json:"aws_iam_role,omitempty"`
	AzureServicePrincipal map[string]interface{} `json:"azure_service_principal,omitempty"`
	AzureManagedIdentity  map[string]interface{} `json:"azure_managed_identity,omitempty"`
}

func (c CloudIdentity) apply(body map[string]interface{}) error {
	set := 0
	if c.AWSIAMRole != nil {
		body["aws_iam_role"] = c.AWSIAMRole
		set++
	}
	if c.AzureServicePrincipal != nil {
		body["azure_service_principal"] = c.AzureServicePrincipal
		set++
	}
	if c.AzureManagedIdentity != nil {
		body["azure_managed_identity"] = c.AzureManagedIdentity
		set++
	}
	if set > 1 {
		return apierr.Validation("aws_iam_role", "only one of aws_iam_role, azure_service_principal or azure_managed_identity may be provided")
	}
	return nil
}

func (c CloudIdentity) isSet() bool {
	return c.AWSIAMRole != nil || c.AzureServicePrincipal != nil || c.AzureManagedIdentity != nil
}

// CreateStorageCredentialRequest describes a new storage credential
type CreateStorageCredentialRequest struct {
	CloudIdentity

	Name     string `json:"name"`
	Comment  string `json:"comment,omitempty"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// UpdateStorageCredentialRequest changes a storage credential. Unset fields are left alone.
type UpdateStorageCredentialRequest struct {
	CloudIdentity

	Name     string `json:"name"`
	NewName  string `json:"new_name,omitempty"`
	Comment  string `json:"comment,omitempty"`
	ReadOnly *bool  `json:"read_only,omitempty"`
}

// NameRef identifies a Unity Catalog securable by name
type NameRef struct {
	Name string `json:"name"`
}

// ListRequest pages a Unity Catalog listing
type ListRequest struct {
	MaxResults int `json:"max_results,omitempty"`
}

// CreateCredentialRequest describes a new service credential
type CreateCredentialRequest struct {
	Name           string                 `json:"name"`
	CredentialType string                 `json:"credential_type"`
	CredentialInfo map[string]interface{} `json:"credential_info"`
	Purpose        string                 `json:"purpose,omitempty"`
	Comment        string                 `json:"comment,omitempty"`
}

// ListCredentialsRequest filters and pages the service credential list
type ListCredentialsRequest struct {
	Purpose    string `json:"purpose,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// UpdateCredentialRequest changes a service credential. CredentialType and
// CredentialInfo are given together or not at all.
type UpdateCredentialRequest struct {
	Name           string                 `json:"name"`
	NewName        string                 `json:"new_name,omitempty"`
	CredentialType string                 `json:"credential_type,omitempty"`
	CredentialInfo map[string]interface{} `json:"credential_info,omitempty"`
	Comment        string                 `json:"comment,omitempty"`
}

func maxResultsQuery(maxResults int) (url.Values, error) {
	if maxResults < 0 {
		return nil, apierr.Validation("max_results", "max_results must not be negative")
	}
	query := url.Values{}
	if maxResults > 0 {
		query.Set("max_results", strconv.Itoa(maxResults))
	}
	return query, nil
}

// CreateStorageCredential creates a storage credential
func (s *Service) CreateStorageCredential(ctx context.Context, req CreateStorageCredentialRequest) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}

	body := map[string]interface{}{"name": req.Name}
	if err := req.CloudIdentity.apply(body); err != nil {
		return nil, err
	}
	if req.Comment != "" {
		body["comment"] = req.Comment
	}
	if req.ReadOnly {
		body["read_only"] = true
	}

	return s.send(ctx, http.MethodPost, storageCredentialsPath, body)
}

// GetStorageCredential returns one storage credential
func (s *Service) GetStorageCredential(ctx context.Context, req NameRef) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}
	return s.get(ctx, storageCredentialsPath+"/"+segment(req.Name), nil)
}

// UpdateStorageCredential patches a storage credential
func (s *Service) UpdateStorageCredential(ctx context.Context, req UpdateStorageCredentialRequest) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}

	body := map[string]interface{}{}
	if req.NewName != "" {
		body["new_name"] = req.NewName
	}
	if err := req.CloudIdentity.apply(body); err != nil {
		return nil, err
	}
	if req.Comment != "" {
		body["comment"] = req.Comment
	}
	if req.ReadOnly != nil {
		body["read_only"] = *req.ReadOnly
	}
	if len(body) == 0 {
		return nil, apierr.Validation("name", "nothing to update for storage credential %q", req.Name)
	}

	return s.send(ctx, http.MethodPatch, storageCredentialsPath+"/"+segment(req.Name), body)
}

// DeleteStorageCredential deletes a storage credential
func (s *Service) DeleteStorageCredential(ctx context.Context, req NameRef) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}
	return s.delete(ctx, storageCredentialsPath+"/"+segment(req.Name))
}

// ListStorageCredentials lists storage credentials
func (s *Service) ListStorageCredentials(ctx context.Context, req ListRequest) (json.RawMessage, error) {
	query, err := maxResultsQuery(req.MaxResults)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, storageCredentialsPath, query)
}

// CreateCredential creates a service credential
func (s *Service) CreateCredential(ctx context.Context, req CreateCredentialRequest) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}
	if err := required("credential_type", req.CredentialType); err != nil {
		return nil, err
	}
	if err := credentialTypes.check("credential_type", req.CredentialType); err != nil {
		return nil, err
	}
	if req.CredentialInfo == nil {
		return nil, apierr.Missing("credential_info")
	}

	body := map[string]interface{}{
		"name":             req.Name,
		req.CredentialType: req.CredentialInfo,
	}
	if req.Purpose != "" {
		if err := credentialPurposes.check("purpose", req.Purpose); err != nil {
			return nil, err
		}
		body["purpose"] = req.Purpose
	}
	if req.Comment != "" {
		body["comment"] = req.Comment
	}

	return s.send(ctx, http.MethodPost, credentialsPath, body)
}

// ListCredentials lists service credentials
func (s *Service) ListCredentials(ctx context.Context, req ListCredentialsRequest) (json.RawMessage, error) {
	query, err := maxResultsQuery(req.MaxResults)
	if err != nil {
		return nil, err
	}
	if req.Purpose != "" {
		if err := credentialPurposes.check("purpose", req.Purpose); err != nil {
			return nil, err
		}
		query.Set("purpose", req.Purpose)
	}
	return s.get(ctx, credentialsPath, query)
}

// UpdateCredential patches a service credential
func (s *Service) UpdateCredential(ctx context.Context, req UpdateCredentialRequest) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}

	body := map[string]interface{}{}
	if req.NewName != "" {
		body["new_name"] = req.NewName
	}

	switch {
	case req.CredentialType != "" && req.CredentialInfo != nil:
		if err := credentialTypes.check("credential_type", req.CredentialType); err != nil {
			return nil, err
		}
		body[req.CredentialType] = req.CredentialInfo
	case req.CredentialType != "":
		return nil, apierr.Validation("credential_info", "credential_info is required when credential_type is set")
	case req.CredentialInfo != nil:
		return nil, apierr.Validation("credential_type", "credential_type is required when credential_info is set")
	}

	if req.Comment != "" {
		body["comment"] = req.Comment
	}
	if len(body) == 0 {
		return nil, apierr.Validation("name", "nothing to update for credential %q", req.Name)
	}

	return s.send(ctx, http.MethodPatch, credentialsPath+"/"+segment(req.Name), body)
}

// DeleteCredential deletes a service credential
func (s *Service) DeleteCredential(ctx context.Context, req NameRef) (json.RawMessage, error) {
	if err := required("name", req.Name); err != nil {
		return nil, err
	}
	return s.delete(ctx, credentialsPath+"/"+segment(req.Name))
}
