// Package commandqueue bounds how many tool calls run at once.
//
// Calls are placed in named lanes. Each lane has its own concurrency limit
// and starts queued calls in FIFO order. The dispatcher uses a "read" lane
// for list and get tools and a "write" lane for everything that mutates the
// workspace, so a burst of permission updates cannot starve lookups.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{
//		Lanes: map[string]int{commandqueue.LaneRead: 8, commandqueue.LaneWrite: 2},
//	})
//	defer queue.Close()
//	payload, err := queue.Enqueue(ctx, commandqueue.LaneRead, func(ctx context.Context) (json.RawMessage, error) {
//		return json.RawMessage(`{}`), nil
//	})
package commandqueue
