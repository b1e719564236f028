// Package natsclient manages the NATS connection shared by the nats source
// and the nats action.
//
// The client connects with exponential backoff (pkg/retry), reports its
// connection state, and implements component.Messenger so plugins depend on
// the interface rather than on this package:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("watchpost"),
//		natsclient.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
//	sub, err := client.Subscribe(ctx, "sensors.garage", func(ctx context.Context, data []byte) {
//		// handle message
//	})
//
// TestClient starts a throwaway NATS server with testcontainers for
// integration tests.
package natsclient
