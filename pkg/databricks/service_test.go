package databricks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/harun/dbperms-mcp/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRequester is a mock implementation of Requester
type MockRequester struct {
	mock.Mock
}

func (m *MockRequester) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	args := m.Called(ctx, method, path, query, body)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func expectCall(m *MockRequester, method, path string, query url.Values, body interface{}) *mock.Call {
	return m.On("Do", mock.Anything, method, path, query, body).Return(json.RawMessage(`{"ok":true}`), nil).Once()
}

// bodyJSON matches a request body by its JSON encoding
func bodyJSON(t *testing.T, want string) interface{} {
	return mock.MatchedBy(func(body interface{}) bool {
		got, err := json.Marshal(body)
		require.NoError(t, err)
		var a, b interface{}
		require.NoError(t, json.Unmarshal(got, &a))
		require.NoError(t, json.Unmarshal([]byte(want), &b))
		return assert.ObjectsAreEqual(a, b)
	})
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	acl := []AccessControlRequest{{GroupName: "admins", PermissionLevel: "CAN_MANAGE"}}

	t.Run("get", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodGet, "/api/2.0/permissions/clusters/0123-abc", url.Values(nil), nil)

		raw, err := NewService(m).GetPermissions(ctx, ObjectRef{ObjectType: "clusters", ObjectID: "0123-abc"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(raw))
		m.AssertExpectations(t)
	})

	t.Run("set uses PUT", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPut, "/api/2.0/permissions/sql/warehouses/w1", url.Values(nil),
			bodyJSON(t, `{"access_control_list":[{"group_name":"admins","permission_level":"CAN_MANAGE"}]}`))

		_, err := NewService(m).SetPermissions(ctx, SetPermissionsRequest{ObjectType: "sql/warehouses", ObjectID: "w1", AccessControlList: acl})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("entry without permission level is forwarded", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPut, "/api/2.0/permissions/clusters/0123-abc", url.Values(nil),
			bodyJSON(t, `{"access_control_list":[{"group_name":"admins"}]}`))

		_, err := NewService(m).SetPermissions(ctx, SetPermissionsRequest{
			ObjectType:        "clusters",
			ObjectID:          "0123-abc",
			AccessControlList: []AccessControlRequest{{GroupName: "admins"}},
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("update uses PATCH", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPatch, "/api/2.0/permissions/jobs/42", url.Values(nil), mock.Anything)

		_, err := NewService(m).UpdatePermissions(ctx, SetPermissionsRequest{ObjectType: "jobs", ObjectID: "42", AccessControlList: acl})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("permission levels for a type", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodGet, "/api/2.0/permissions/clusters", url.Values(nil), nil)

		_, err := NewService(m).GetPermissionLevels(ctx, PermissionLevelsRequest{ObjectType: "clusters"})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("permission levels for an object", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodGet, "/api/2.0/permissions/jobs/7/permissionLevels", url.Values(nil), nil)

		_, err := NewService(m).GetPermissionLevels(ctx, PermissionLevelsRequest{ObjectType: "jobs", ObjectID: "7"})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})
}

func TestPermissionsValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		call  func(s *Service) error
		param string
	}{
		{
			name: "unknown object type",
			call: func(s *Service) error {
				_, err := s.GetPermissions(ctx, ObjectRef{ObjectType: "not-a-real-type", ObjectID: "1"})
				return err
			},
			param: "object_type",
		},
		{
			name: "missing object id",
			call: func(s *Service) error {
				_, err := s.GetPermissions(ctx, ObjectRef{ObjectType: "jobs"})
				return err
			},
			param: "object_id",
		},
		{
			name: "bogus permission level",
			call: func(s *Service) error {
				_, err := s.SetPermissions(ctx, SetPermissionsRequest{
					ObjectType:        "clusters",
					ObjectID:          "1",
					AccessControlList: []AccessControlRequest{{UserName: "a@b.c", PermissionLevel: "BOGUS"}},
				})
				return err
			},
			param: "access_control_list[0].permission_level",
		},
		{
			name: "missing access control list",
			call: func(s *Service) error {
				_, err := s.UpdatePermissions(ctx, SetPermissionsRequest{ObjectType: "clusters", ObjectID: "1"})
				return err
			},
			param: "access_control_list",
		},
		{
			name: "permission levels with unknown type",
			call: func(s *Service) error {
				_, err := s.GetPermissionLevels(ctx, PermissionLevelsRequest{ObjectType: "widgets"})
				return err
			},
			param: "object_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MockRequester{}
			err := tt.call(NewService(m))

			require.Error(t, err)
			var apiErr *apierr.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, apierr.KindValidation, apiErr.Kind)
			assert.Equal(t, tt.param, apiErr.Param)
			assert.Contains(t, err.Error(), tt.param)
			m.AssertNotCalled(t, "Do", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestServicePrincipals(t *testing.T) {
	ctx := context.Background()
	base := "/api/2.0/account/scim/v2/ServicePrincipals"

	t.Run("create with cluster create entitlement", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPost, base, url.Values(nil), bodyJSON(t, `{
			"schemas": ["urn:ietf:params:scim:schemas:core:2.0:ServicePrincipal"],
			"displayName": "etl",
			"applicationId": "app-1",
			"entitlements": [{"value": "allow-cluster-create"}]
		}`))

		_, err := NewService(m).CreateServicePrincipal(ctx, CreateServicePrincipalRequest{
			DisplayName: "etl", ApplicationID: "app-1", AllowClusterCreate: true,
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("list maps paging to SCIM names", func(t *testing.T) {
		m := &MockRequester{}
		want := url.Values{"filter": {`displayName eq "etl"`}, "count": {"5"}, "startIndex": {"11"}}
		expectCall(m, http.MethodGet, base, want, nil)

		_, err := NewService(m).ListServicePrincipals(ctx, ListServicePrincipalsRequest{
			Filter: `displayName eq "etl"`, Count: 5, StartIndex: 11,
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("update builds a PatchOp", func(t *testing.T) {
		m := &MockRequester{}
		disallow := false
		expectCall(m, http.MethodPatch, base+"/sp-1", url.Values(nil), bodyJSON(t, `{
			"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
			"Operations": [
				{"op": "replace", "path": "displayName", "value": "renamed"},
				{"op": "remove", "path": "entitlements[value eq \"allow-cluster-create\"]"}
			]
		}`))

		_, err := NewService(m).UpdateServicePrincipal(ctx, UpdateServicePrincipalRequest{
			ID: "sp-1", DisplayName: "renamed", AllowClusterCreate: &disallow,
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("update with nothing to change", func(t *testing.T) {
		m := &MockRequester{}
		_, err := NewService(m).UpdateServicePrincipal(ctx, UpdateServicePrincipalRequest{ID: "sp-1"})
		assert.True(t, apierr.IsValidation(err))
		m.AssertNotCalled(t, "Do", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("get and delete", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodGet, base+"/sp-1", url.Values(nil), nil)
		expectCall(m, http.MethodDelete, base+"/sp-1", url.Values(nil), nil)

		s := NewService(m)
		_, err := s.GetServicePrincipal(ctx, ServicePrincipalRef{ID: "sp-1"})
		require.NoError(t, err)
		_, err = s.DeleteServicePrincipal(ctx, ServicePrincipalRef{ID: "sp-1"})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})
}

func TestStorageCredentials(t *testing.T) {
	ctx := context.Background()
	base := "/api/2.1/unity-catalog/storage-credentials"

	t.Run("create", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPost, base, url.Values(nil), bodyJSON(t, `{
			"name": "landing",
			"aws_iam_role": {"role_arn": "arn:aws:iam::123:role/landing"},
			"comment": "raw zone",
			"read_only": true
		}`))

		_, err := NewService(m).CreateStorageCredential(ctx, CreateStorageCredentialRequest{
			Name:          "landing",
			CloudIdentity: CloudIdentity{AWSIAMRole: map[string]interface{}{"role_arn": "arn:aws:iam::123:role/landing"}},
			Comment:       "raw zone",
			ReadOnly:      true,
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("create with two identities", func(t *testing.T) {
		m := &MockRequester{}
		_, err := NewService(m).CreateStorageCredential(ctx, CreateStorageCredentialRequest{
			Name: "landing",
			CloudIdentity: CloudIdentity{
				AWSIAMRole:           map[string]interface{}{"role_arn": "arn"},
				AzureManagedIdentity: map[string]interface{}{"access_connector_id": "ac"},
			},
		})
		assert.True(t, apierr.IsValidation(err))
		m.AssertNotCalled(t, "Do", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("update renames", func(t *testing.T) {
		m := &MockRequester{}
		readOnly := false
		expectCall(m, http.MethodPatch, base+"/landing", url.Values(nil), bodyJSON(t, `{"new_name": "bronze", "read_only": false}`))

		_, err := NewService(m).UpdateStorageCredential(ctx, UpdateStorageCredentialRequest{
			Name: "landing", NewName: "bronze", ReadOnly: &readOnly,
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("list with max results", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodGet, base, url.Values{"max_results": {"50"}}, nil)

		_, err := NewService(m).ListStorageCredentials(ctx, ListRequest{MaxResults: 50})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})
}

func TestServiceCredentials(t *testing.T) {
	ctx := context.Background()
	base := "/api/2.1/unity-catalog/credentials"

	t.Run("create places info under the type key", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPost, base, url.Values(nil), bodyJSON(t, `{
			"name": "svc",
			"azure_managed_identity": {"access_connector_id": "ac-1"},
			"purpose": "SERVICE"
		}`))

		_, err := NewService(m).CreateCredential(ctx, CreateCredentialRequest{
			Name:           "svc",
			CredentialType: "azure_managed_identity",
			CredentialInfo: map[string]interface{}{"access_connector_id": "ac-1"},
			Purpose:        "SERVICE",
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("create with unknown type", func(t *testing.T) {
		m := &MockRequester{}
		_, err := NewService(m).CreateCredential(ctx, CreateCredentialRequest{
			Name: "svc", CredentialType: "kerberos", CredentialInfo: map[string]interface{}{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "credential_type")
		m.AssertNotCalled(t, "Do", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("list with purpose", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodGet, base, url.Values{"purpose": {"STORAGE"}}, nil)

		_, err := NewService(m).ListCredentials(ctx, ListCredentialsRequest{Purpose: "STORAGE"})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("update requires type and info together", func(t *testing.T) {
		m := &MockRequester{}
		_, err := NewService(m).UpdateCredential(ctx, UpdateCredentialRequest{Name: "svc", CredentialType: "aws_iam_role"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "credential_info")
		m.AssertNotCalled(t, "Do", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("delete", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodDelete, base+"/svc", url.Values(nil), nil)

		_, err := NewService(m).DeleteCredential(ctx, NameRef{Name: "svc"})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})
}

func TestShares(t *testing.T) {
	ctx := context.Background()
	base := "/api/2.1/unity-catalog/shares"

	t.Run("update permissions", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPatch, base+"/sales/permissions", url.Values(nil),
			bodyJSON(t, `{"changes": [{"principal": "partner", "add": ["SELECT"]}]}`))

		_, err := NewService(m).UpdateSharePermissions(ctx, UpdateSharePermissionsRequest{
			Name:    "sales",
			Changes: []PermissionsChange{{Principal: "partner", Add: []string{"SELECT"}}},
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("update permissions with unknown privilege", func(t *testing.T) {
		m := &MockRequester{}
		_, err := NewService(m).UpdateSharePermissions(ctx, UpdateSharePermissionsRequest{
			Name:    "sales",
			Changes: []PermissionsChange{{Principal: "partner", Remove: []string{"MODIFY"}}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "changes[0].remove")
		m.AssertNotCalled(t, "Do", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("get share with data", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodGet, base+"/sales", url.Values{"include_shared_data": {"true"}}, nil)

		_, err := NewService(m).GetShare(ctx, GetShareRequest{Name: "sales", IncludeSharedData: true})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})
}

func TestGitCredentials(t *testing.T) {
	ctx := context.Background()
	base := "/api/2.0/git-credentials"

	t.Run("create normalises provider", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPost, base, url.Values(nil), bodyJSON(t, `{
			"git_provider": "gitHub",
			"git_username": "octo",
			"personal_access_token": "ghp_x"
		}`))

		_, err := NewService(m).CreateGitCredential(ctx, CreateGitCredentialRequest{
			GitProvider: "GITHUB", GitUsername: "octo", PersonalAccessToken: "ghp_x",
		})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("create with unknown provider", func(t *testing.T) {
		m := &MockRequester{}
		_, err := NewService(m).CreateGitCredential(ctx, CreateGitCredentialRequest{
			GitProvider: "sourceforge", GitUsername: "octo", PersonalAccessToken: "x",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "git_provider")
		m.AssertNotCalled(t, "Do", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("update addresses the credential id", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodPatch, base+"/99", url.Values(nil), bodyJSON(t, `{"git_username": "new"}`))

		_, err := NewService(m).UpdateGitCredential(ctx, UpdateGitCredentialRequest{CredentialID: "99", GitUsername: "new"})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("list, get and delete", func(t *testing.T) {
		m := &MockRequester{}
		expectCall(m, http.MethodGet, base, url.Values(nil), nil)
		expectCall(m, http.MethodGet, base+"/99", url.Values(nil), nil)
		expectCall(m, http.MethodDelete, base+"/99", url.Values(nil), nil)

		s := NewService(m)
		_, err := s.ListGitCredentials(ctx, struct{}{})
		require.NoError(t, err)
		_, err = s.GetGitCredential(ctx, GitCredentialRef{CredentialID: "99"})
		require.NoError(t, err)
		_, err = s.DeleteGitCredential(ctx, GitCredentialRef{CredentialID: "99"})
		require.NoError(t, err)
		m.AssertExpectations(t)
	})
}

func TestNormalizeGitProvider(t *testing.T) {
	got, err := NormalizeGitProvider("gitlabenterpriseedition")
	require.NoError(t, err)
	assert.Equal(t, "gitLabEnterpriseEdition", got)

	assert.Len(t, GitProviders(), 9)
}
