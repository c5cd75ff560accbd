package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/harun/dbperms-mcp/pkg/apierr"
	"github.com/harun/dbperms-mcp/pkg/databricks"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Query  string
}

// mockWorkspace answers every request with a fixed status and body and
// records what it received
type mockWorkspace struct {
	srv    *httptest.Server
	mu     sync.Mutex
	status int
	body   string
	reqs   []recorded
}

func newMockWorkspace(t *testing.T, status int, body string) *mockWorkspace {
	t.Helper()
	ws := &mockWorkspace{status: status, body: body}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.mu.Lock()
		ws.reqs = append(ws.reqs, recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
		ws.mu.Unlock()
		w.WriteHeader(ws.status)
		_, _ = w.Write([]byte(ws.body))
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *mockWorkspace) requests() []recorded {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]recorded(nil), ws.reqs...)
}

func newDispatcher(t *testing.T, ws *mockWorkspace) *toolexecutor.Dispatcher {
	t.Helper()
	client, err := databricks.NewClient(databricks.ClientConfig{Host: ws.srv.URL, Token: "dapi-test"})
	require.NoError(t, err)
	reg, err := NewRegistry(databricks.NewService(client))
	require.NoError(t, err)
	return toolexecutor.NewDispatcher(reg)
}

// updateExtras supplies an optional field to tools that need at least one
var updateExtras = map[string]map[string]interface{}{
	"update_service_principal":  {"display_name": "renamed"},
	"update_storage_credential": {"comment": "rotated"},
	"update_credential":         {"new_name": "renamed"},
	"update_git_credential":     {"git_username": "octo"},
}

func sampleValue(p toolexecutor.ToolParameter) interface{} {
	if len(p.Enum) > 0 {
		return p.Enum[0]
	}
	switch p.Name {
	case "git_provider":
		return "gitHub"
	case "access_control_list":
		return []interface{}{map[string]interface{}{"group_name": "admins", "permission_level": "CAN_MANAGE"}}
	case "changes":
		return []interface{}{map[string]interface{}{"principal": "partner", "add": []interface{}{"SELECT"}}}
	}
	switch p.Type {
	case "integer":
		return float64(10)
	case "boolean":
		return true
	case "object":
		return map[string]interface{}{"role_arn": "arn:aws:iam::123:role/x"}
	case "array":
		return []interface{}{}
	}
	return "sample-" + p.Name
}

func validParams(def toolexecutor.ToolDefinition) map[string]interface{} {
	params := map[string]interface{}{}
	for _, p := range def.Parameters {
		if p.Required {
			params[p.Name] = sampleValue(p)
		}
	}
	for k, v := range updateExtras[def.Name] {
		params[k] = v
	}
	return params
}

func TestCatalogNames(t *testing.T) {
	reg, err := NewRegistry(databricks.NewService(nil))
	require.NoError(t, err)

	expected := []string{
		"create_service_principal", "list_service_principals", "get_service_principal",
		"update_service_principal", "delete_service_principal",
		"create_storage_credential", "get_storage_credential", "update_storage_credential",
		"delete_storage_credential", "list_storage_credentials",
		"create_credential", "list_credentials", "update_credential", "delete_credential",
		"get_permissions", "set_permissions", "update_permissions", "get_permission_levels",
		"get_share_permissions", "update_share_permissions", "list_shares", "get_share",
		"create_git_credential", "list_git_credentials", "get_git_credential",
		"update_git_credential", "delete_git_credential",
	}
	for _, family := range ObjectFamilies {
		for _, verb := range []string{"get", "set", "update"} {
			expected = append(expected, fmt.Sprintf("%s_%s_permissions", verb, family.Name))
		}
	}

	assert.ElementsMatch(t, expected, reg.Names())
	assert.Equal(t, 27+3*14, reg.Len())

	for _, def := range reg.List() {
		assert.NotEmpty(t, def.Category, def.Name)
		assert.NotNil(t, reg.InputSchema(def.Name), def.Name)
	}
}

func TestEveryToolForwardsRemoteJSONVerbatim(t *testing.T) {
	const remote = `{"id": "42", "nested": {"values": [1, 2.5, "three"]}, "big": 12345678901234567890}`

	reg, err := NewRegistry(databricks.NewService(nil))
	require.NoError(t, err)

	for _, def := range reg.List() {
		def := def
		t.Run(def.Name, func(t *testing.T) {
			ws := newMockWorkspace(t, http.StatusOK, remote)
			d := newDispatcher(t, ws)

			env := d.Dispatch(context.Background(), def.Name, validParams(def))

			require.False(t, env.IsError(), env.Text)
			assert.Equal(t, remote, env.Text)
			assert.Len(t, ws.requests(), 1)
		})
	}
}

func TestMissingRequiredParameterMakesNoCall(t *testing.T) {
	reg, err := NewRegistry(databricks.NewService(nil))
	require.NoError(t, err)

	for _, def := range reg.List() {
		for _, p := range def.Parameters {
			if !p.Required {
				continue
			}
			def, p := def, p
			t.Run(def.Name+"/"+p.Name, func(t *testing.T) {
				ws := newMockWorkspace(t, http.StatusOK, `{}`)
				d := newDispatcher(t, ws)

				params := validParams(def)
				delete(params, p.Name)

				env := d.Dispatch(context.Background(), def.Name, params)

				assert.Equal(t, apierr.KindValidation, env.Kind)
				assert.Contains(t, env.Text, p.Name)
				assert.Empty(t, ws.requests())
			})
		}
	}
}

func TestGetPermissionLevelsExample(t *testing.T) {
	ws := newMockWorkspace(t, http.StatusOK, `{"permission_levels": ["CAN_VIEW", "CAN_MANAGE"]}`)
	d := newDispatcher(t, ws)

	env := d.Dispatch(context.Background(), "get_permission_levels", map[string]interface{}{"object_type": "clusters"})

	require.False(t, env.IsError(), env.Text)
	assert.Equal(t, `{"permission_levels": ["CAN_VIEW", "CAN_MANAGE"]}`, env.Text)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Equal(t, `{"text":"{\"permission_levels\": [\"CAN_VIEW\", \"CAN_MANAGE\"]}"}`, string(data))

	var payload map[string][]string
	require.NoError(t, json.Unmarshal([]byte(env.Text), &payload))
	assert.Equal(t, []string{"CAN_VIEW", "CAN_MANAGE"}, payload["permission_levels"])

	assert.Equal(t, []recorded{{Method: http.MethodGet, Path: "/api/2.0/permissions/clusters"}}, ws.requests())
}

func TestNumericIDs(t *testing.T) {
	tests := []struct {
		tool   string
		params map[string]interface{}
		path   string
	}{
		{"get_job_permissions", map[string]interface{}{"job_id": float64(123456789)}, "/api/2.0/permissions/jobs/123456789"},
		{"get_job_permissions", map[string]interface{}{"job_id": "123456789"}, "/api/2.0/permissions/jobs/123456789"},
		{"get_permissions", map[string]interface{}{"object_type": "repos", "object_id": float64(42)}, "/api/2.0/permissions/repos/42"},
		{"get_git_credential", map[string]interface{}{"credential_id": float64(7)}, "/api/2.0/git-credentials/7"},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			ws := newMockWorkspace(t, http.StatusOK, `{}`)
			d := newDispatcher(t, ws)

			env := d.Dispatch(context.Background(), tt.tool, tt.params)

			require.False(t, env.IsError(), env.Text)
			require.Len(t, ws.requests(), 1)
			assert.Equal(t, tt.path, ws.requests()[0].Path)
		})
	}

	t.Run("fractional id is rejected", func(t *testing.T) {
		ws := newMockWorkspace(t, http.StatusOK, `{}`)
		d := newDispatcher(t, ws)

		env := d.Dispatch(context.Background(), "get_job_permissions", map[string]interface{}{"job_id": 1.5})

		assert.Equal(t, apierr.KindValidation, env.Kind)
		assert.Empty(t, ws.requests())
	})
}

func TestSetClusterPermissionsWithoutACL(t *testing.T) {
	ws := newMockWorkspace(t, http.StatusOK, `{}`)
	d := newDispatcher(t, ws)

	env := d.Dispatch(context.Background(), "set_cluster_permissions", map[string]interface{}{"cluster_id": "123"})

	assert.True(t, env.IsError())
	assert.Contains(t, env.Text, "access_control_list")
	assert.Empty(t, ws.requests())
}

func TestOutOfEnumerationValues(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		params map[string]interface{}
	}{
		{
			name:   "object type",
			tool:   "get_permissions",
			params: map[string]interface{}{"object_type": "not-a-real-type", "object_id": "1"},
		},
		{
			name: "permission level",
			tool: "set_job_permissions",
			params: map[string]interface{}{
				"job_id":              "1",
				"access_control_list": []interface{}{map[string]interface{}{"user_name": "a@b.c", "permission_level": "BOGUS"}},
			},
		},
		{
			name: "share privilege",
			tool: "update_share_permissions",
			params: map[string]interface{}{
				"name":    "sales",
				"changes": []interface{}{map[string]interface{}{"principal": "p", "add": []interface{}{"ALL PRIVILEGES"}}},
			},
		},
		{
			name:   "git provider",
			tool:   "create_git_credential",
			params: map[string]interface{}{"git_provider": "cvs", "git_username": "u", "personal_access_token": "t"},
		},
		{
			name:   "credential purpose",
			tool:   "list_credentials",
			params: map[string]interface{}{"purpose": "EVERYTHING"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newMockWorkspace(t, http.StatusOK, `{}`)
			d := newDispatcher(t, ws)

			env := d.Dispatch(context.Background(), tt.tool, tt.params)

			assert.Equal(t, apierr.KindValidation, env.Kind, env.Text)
			assert.Empty(t, ws.requests())
		})
	}
}

func TestRemoteErrorBecomesErrorEnvelope(t *testing.T) {
	ws := newMockWorkspace(t, http.StatusForbidden,
		`{"error_code": "PERMISSION_DENIED", "message": "User is not an admin of cluster 123"}`)
	d := newDispatcher(t, ws)

	env := d.Dispatch(context.Background(), "get_cluster_permissions", map[string]interface{}{"cluster_id": "123"})

	assert.Equal(t, apierr.KindRemote, env.Kind)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(env.Text), &payload))
	assert.Contains(t, payload["error"], "User is not an admin of cluster 123")
	assert.Contains(t, payload["error"], "403")
}

func TestObjectFamiliesMapToObjectTypes(t *testing.T) {
	verbs := []struct {
		verb   string
		method string
	}{
		{"get", http.MethodGet},
		{"set", http.MethodPut},
		{"update", http.MethodPatch},
	}

	for _, family := range ObjectFamilies {
		for _, v := range verbs {
			family, v := family, v
			t.Run(v.verb+"_"+family.Name, func(t *testing.T) {
				ws := newMockWorkspace(t, http.StatusOK, `{}`)
				d := newDispatcher(t, ws)

				params := map[string]interface{}{family.IDParam: "obj-1"}
				if v.verb != "get" {
					params["access_control_list"] = []interface{}{
						map[string]interface{}{"service_principal_name": "sp", "permission_level": "CAN_VIEW"},
					}
				}

				env := d.Dispatch(context.Background(), fmt.Sprintf("%s_%s_permissions", v.verb, family.Name), params)
				require.False(t, env.IsError(), env.Text)

				assert.Equal(t, []recorded{{
					Method: v.method,
					Path:   "/api/2.0/permissions/" + family.ObjectType + "/obj-1",
				}}, ws.requests())
			})
		}
	}
}

func TestObjectFamiliesUseKnownObjectTypes(t *testing.T) {
	types := map[string]bool{}
	for _, ot := range databricks.ObjectTypes() {
		types[ot] = true
	}
	for _, family := range ObjectFamilies {
		assert.True(t, types[family.ObjectType], family.ObjectType)
	}
}

func TestShareToolDescribesPrivileges(t *testing.T) {
	for _, def := range Tools(databricks.NewService(nil)) {
		if def.Name != "update_share_permissions" {
			continue
		}
		for _, privilege := range databricks.SharePrivileges() {
			assert.Contains(t, def.Description, privilege)
		}
		require.Len(t, def.Parameters, 2)
		assert.Contains(t, def.Parameters[1].Description, "privileges: SELECT, USAGE")
		return
	}
	t.Fatal("update_share_permissions not in catalog")
}
