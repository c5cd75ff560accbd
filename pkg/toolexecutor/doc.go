// Package toolexecutor holds the tool table and dispatches tool calls.
//
// Invariants:
// - Tool names are unique and the table never changes after NewRegistry.
// - Required parameters are checked and the parameter bag is schema-validated
//   before any handler runs.
// - Every call yields exactly one Envelope; handler failures never escape Dispatch.
// - With WithQueue, read-only tools and mutating tools wait in separate lanes.
//
// Usage:
//
//	reg, _ := toolexecutor.NewRegistry(toolexecutor.ToolDefinition{
//		Name:        "get_share",
//		Description: "Get a Delta Sharing share",
//		Category:    toolexecutor.CategoryShares,
//		Parameters:  []toolexecutor.ToolParameter{{Name: "name", Type: "string", Description: "share name", Required: true}},
//		Handler:     toolexecutor.Typed(svc.GetShare),
//	})
//	env := toolexecutor.NewDispatcher(reg).Dispatch(ctx, "get_share", map[string]interface{}{"name": "sales"})
package toolexecutor
