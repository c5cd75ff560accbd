package databricks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/harun/dbperms-mcp/pkg/apierr"
)

const gitCredentialsPath = "/api/2.0/git-credentials"

// gitProviders maps the lower-cased provider name to its canonical spelling
var gitProviders = map[string]string{}

func init() {
	for _, p := range []string{
		"gitHub",
		"gitHubEnterprise",
		"bitbucketCloud",
		"bitbucketServer",
		"azureDevOpsServices",
		"azureDevOpsServicesAAD",
		"gitLab",
		"gitLabEnterpriseEdition",
		"awsCodeCommit",
	} {
		gitProviders[strings.ToLower(p)] = p
	}
}

// GitProviders returns the canonical names of the supported Git providers
func GitProviders() []string {
	providers := make(enum, len(gitProviders))
	for _, p := range gitProviders {
		providers[p] = true
	}
	return providers.Values()
}

// NormalizeGitProvider returns the canonical spelling of provider
func NormalizeGitProvider(provider string) (string, error) {
	canonical, ok := gitProviders[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return "", apierr.NotAllowed("git_provider", provider, GitProviders())
	}
	return canonical, nil
}

// CreateGitCredentialRequest describes a new Git credential
type CreateGitCredentialRequest struct {
	GitProvider         string `json:"git_provider"`
	GitUsername         string `json:"git_username"`
	PersonalAccessToken string `json:"personal_access_token"`
	Comment             string `json:"comment,omitempty"`
}

// GitCredentialRef identifies a Git credential
type GitCredentialRef struct {
	CredentialID string `json:"credential_id"`
}

// UpdateGitCredentialRequest changes a Git credential. Unset fields are left alone.
type UpdateGitCredentialRequest struct {
	CredentialID        string `json:"credential_id"`
	GitProvider         string `json:"git_provider,omitempty"`
	GitUsername         string `json:"git_username,omitempty"`
	PersonalAccessToken string `json:"personal_access_token,omitempty"`
	Comment             string `json:"comment,omitempty"`
}

// CreateGitCredential stores a Git credential for the calling user
func (s *Service) CreateGitCredential(ctx context.Context, req CreateGitCredentialRequest) (json.RawMessage, error) {
	if err := required("git_provider", req.GitProvider); err != nil {
		return nil, err
	}
	provider, err := NormalizeGitProvider(req.GitProvider)
	if err != nil {
		return nil, err
	}
	if err := required("git_username", req.GitUsername); err != nil {
		return nil, err
	}
	if err := required("personal_access_token", req.PersonalAccessToken); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"git_provider":          provider,
		"git_username":          req.GitUsername,
		"personal_access_token": req.PersonalAccessToken,
	}
	if req.Comment != "" {
		body["comment"] = req.Comment
	}

	return s.send(ctx, http.MethodPost, gitCredentialsPath, body)
}

// ListGitCredentials lists the calling user's Git credentials
func (s *Service) ListGitCredentials(ctx context.Context, _ struct{}) (json.RawMessage, error) {
	return s.get(ctx, gitCredentialsPath, nil)
}

// GetGitCredential returns one Git credential
func (s *Service) GetGitCredential(ctx context.Context, req GitCredentialRef) (json.RawMessage, error) {
	if err := required("credential_id", req.CredentialID); err != nil {
		return nil, err
	}
	return s.get(ctx, gitCredentialsPath+"/"+segment(req.CredentialID), nil)
}

// UpdateGitCredential patches a Git credential
func (s *Service) UpdateGitCredential(ctx context.Context, req UpdateGitCredentialRequest) (json.RawMessage, error) {
	if err := required("credential_id", req.CredentialID); err != nil {
		return nil, err
	}

	body := map[string]interface{}{}
	if req.GitProvider != "" {
		provider, err := NormalizeGitProvider(req.GitProvider)
		if err != nil {
			return nil, err
		}
		body["git_provider"] = provider
	}
	if req.GitUsername != "" {
		body["git_username"] = req.GitUsername
	}
	if req.PersonalAccessToken != "" {
		body["personal_access_token"] = req.PersonalAccessToken
	}
	if req.Comment != "" {
		body["comment"] = req.Comment
	}
	if len(body) == 0 {
		return nil, apierr.Validation("credential_id", "nothing to update for git credential %s", req.CredentialID)
	}

	return s.send(ctx, http.MethodPatch, gitCredentialsPath+"/"+segment(req.CredentialID), body)
}

// DeleteGitCredential deletes a Git credential
func (s *Service) DeleteGitCredential(ctx context.Context, req GitCredentialRef) (json.RawMessage, error) {
	if err := required("credential_id", req.CredentialID); err != nil {
		return nil, err
	}
	return s.delete(ctx, gitCredentialsPath+"/"+segment(req.CredentialID))
}
