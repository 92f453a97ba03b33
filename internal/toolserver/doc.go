// ABOUTME: Package documentation for the tool server harness.
// ABOUTME: Describes the serving side of the adapter wire protocol.

// Package toolserver implements the backend side of the framed JSON-RPC
// protocol the adapter layer consumes.
//
// It exists for two reasons: the fake-tools binary uses it to stand up a
// local stdio tool server for manual testing, and package tests use it over
// net.Pipe to exercise adapters against a real protocol implementation
// instead of hand-rolled frames.
//
// Register tools, then serve:
//
//	srv := toolserver.NewServer("cost", nil)
//	srv.Register(toolserver.Tool{
//		Name:        "get_monthly_costs",
//		Description: "Get monthly costs",
//		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
//			return map[string]int{"total": 150}, nil
//		},
//	})
//	srv.ServeStdio(ctx)
package toolserver
